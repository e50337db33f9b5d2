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
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/subcommands"
	"github.com/olekukonko/tablewriter"

	"github.com/go-pandos/pandos/pkg/arch"
	"github.com/go-pandos/pandos/pkg/kernel"
	"github.com/go-pandos/pandos/pkg/kernel/device"
)

// dumpCommand implements subcommands.Command for "dump": by default it
// attaches to a running kernel's debug socket and prints its ready queue,
// ASL, and device status; -layout instead prints the fixed device/
// semaphore index layout, useful when wiring a real machine's register
// blocks to WAITIO's idx = 8*(line-3)+devNum scheme.
type dumpCommand struct {
	addr    string
	layout  bool
	verbose bool
}

func (*dumpCommand) Name() string     { return "dump" }
func (*dumpCommand) Synopsis() string { return "inspect a running kernel or print its index layout" }
func (*dumpCommand) Usage() string    { return "dump [-addr ADDR] [-layout] [-v]\n" }

func (c *dumpCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "localhost:7777", "debug socket address of a running boot -debug-addr kernel")
	f.BoolVar(&c.layout, "layout", false, "print the static device semaphore/status index layout instead of attaching")
	f.BoolVar(&c.verbose, "v", false, "also dump the zero-value processor state layout")
}

func (c *dumpCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.layout {
		c.printLayout()
		return subcommands.ExitSuccess
	}
	if err := c.printSnapshot(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// printSnapshot dials a running kernel's debug socket and renders the
// ready queue, ASL, and device status it reports.
func (c *dumpCommand) printSnapshot(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	var snap kernel.Snapshot
	if err := json.NewDecoder(conn).Decode(&snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	fmt.Fprintf(os.Stdout, "processes: %d live, %d soft-blocked\n\n", snap.ProcCount, snap.SoftBlockCount)

	ready := tablewriter.NewWriter(os.Stdout)
	ready.SetHeader([]string{"ready queue (head to tail)", "pool slot"})
	for i, r := range snap.Ready {
		ready.Append([]string{strconv.Itoa(i), strconv.Itoa(r.Proc)})
	}
	ready.Render()
	fmt.Fprintln(os.Stdout)

	sems := tablewriter.NewWriter(os.Stdout)
	sems.SetHeader([]string{"semaphore addr", "blocked"})
	for _, s := range snap.Semaphores {
		sems.Append([]string{s.Addr, strconv.Itoa(s.Blocked)})
	}
	sems.Render()
	fmt.Fprintln(os.Stdout)

	devs := tablewriter.NewWriter(os.Stdout)
	devs.SetHeader([]string{"device index", "value", "status valid", "status"})
	for _, dv := range snap.Devices {
		devs.Append([]string{
			strconv.Itoa(dv.Index),
			strconv.Itoa(int(dv.Value)),
			strconv.FormatBool(dv.StatusValid),
			strconv.Itoa(int(dv.Status)),
		})
	}
	devs.Render()

	if c.verbose {
		fmt.Fprintln(os.Stdout)
		spew.Fdump(os.Stdout, arch.State{})
	}
	return nil
}

func (c *dumpCommand) printLayout() {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"line", "name", "base index", "count"})
	rows := []struct {
		line  int
		name  string
		base  int
		count int
	}{
		{device.LineDisk, "disk", device.DiskBase, device.PerLine},
		{device.LineTape, "tape", device.TapeBase, device.PerLine},
		{device.LineNetwork, "network", device.NetworkBase, device.PerLine},
		{device.LinePrinter, "printer", device.PrinterBase, device.PerLine},
		{device.LineTerminal, "terminal recv", device.TermRecvBase, device.PerLine},
		{device.LineTerminal, "terminal xmit", device.TermXmitBase, device.PerLine},
	}
	for _, r := range rows {
		table.Append([]string{strconv.Itoa(r.line), r.name, strconv.Itoa(r.base), strconv.Itoa(r.count)})
	}
	table.Append([]string{strconv.Itoa(device.LineTimer), "pseudo-clock", strconv.Itoa(device.ClockIndex), "1"})
	table.Render()

	if c.verbose {
		fmt.Fprintln(os.Stdout)
		spew.Fdump(os.Stdout, arch.State{})
	}
}
