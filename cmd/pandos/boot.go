// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/go-pandos/pandos/internal/config"
	"github.com/go-pandos/pandos/pkg/arch"
	"github.com/go-pandos/pandos/pkg/hw/sim"
	"github.com/go-pandos/pandos/pkg/kernel"
	"github.com/go-pandos/pandos/pkg/kernel/device"
	"github.com/go-pandos/pandos/pkg/metrics"
	"github.com/go-pandos/pandos/pkg/workload"
)

// bootCommand implements subcommands.Command for "boot".
type bootCommand struct {
	configPath string
	lockPath   string
	terminals  int
	procs      int
	debugAddr  string
}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "boot the kernel against a simulated machine" }
func (*bootCommand) Usage() string {
	return "boot [-config FILE] [-lock FILE] [-terminals N] [-procs N] [-debug-addr ADDR]\n"
}

func (c *bootCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a TOML config file overriding kernel tunables")
	f.StringVar(&c.lockPath, "lock", "/tmp/pandos.lock", "path to an exclusive boot lock file")
	f.IntVar(&c.terminals, "terminals", 1, "number of simulated terminal lines")
	f.IntVar(&c.procs, "procs", 1, "number of scripted user processes the root process tree creates")
	f.StringVar(&c.debugAddr, "debug-addr", "", "if set, serve a debug socket (ready queue/ASL/device snapshot) on this address")
}

func (c *bootCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	lock := flock.New(c.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "acquiring boot lock %s: %v\n", c.lockPath, err)
		return subcommands.ExitFailure
	}
	if !locked {
		fmt.Fprintf(os.Stderr, "another pandos instance holds %s\n", c.lockPath)
		return subcommands.ExitFailure
	}
	defer lock.Unlock()

	kcfg := kernel.Config{}
	if c.configPath != "" {
		cfgFile, err := config.Load(c.configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return subcommands.ExitFailure
		}
		kcfg = cfgFile.KernelConfig()
		if cfgFile.Terminals != 0 {
			c.terminals = cfgFile.Terminals
		}
	}

	if err := metrics.Register(); err != nil {
		fmt.Fprintf(os.Stderr, "registering metrics: %v\n", err)
		return subcommands.ExitFailure
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	m, err := sim.New(ctx, c.terminals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting simulated machine: %v\n", err)
		return subcommands.ExitFailure
	}
	defer m.Close()

	log := logrus.New()
	k := kernel.New(m, kcfg, log)

	init := arch.State{
		Status:   arch.StatusKernel | arch.StatusIntEnable,
		Workload: workload.Supervisor(c.procs, device.LineDisk, 0),
	}
	if _, err := k.CreateInit(init); err != nil {
		fmt.Fprintf(os.Stderr, "creating init process: %v\n", err)
		return subcommands.ExitFailure
	}

	go reportMetrics(ctx, k)

	if c.debugAddr != "" {
		go func() {
			if err := k.ServeDebug(ctx, c.debugAddr); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "debug socket: %v\n", err)
			}
		}()
	}

	if err := k.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "kernel exited: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// reportMetrics polls the kernel's gauges and records them until ctx is
// canceled, which happens on Run's return (via the Halt/Panic path) or on
// the process signal.
func reportMetrics(ctx context.Context, k *kernel.Kernel) {
	ctx = metrics.WithComponent(ctx)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.Snapshot(ctx, k.ProcCount(), k.SoftBlockCount(), k.ReadyDepth())
		}
	}
}
