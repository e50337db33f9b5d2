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

// Package kernel implements the scheduler and exception/interrupt
// dispatcher of a small preemptive, multi-process kernel for a
// single-CPU ARM-like machine emulator. Kernel concentrates all global
// mutable state (process count, soft-block count, the running process,
// the ready queue, device semaphores/status, and timer deadlines) in one
// struct, mutated only from within the exception/interrupt entry points
// run from Run, never concurrently.
package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/go-pandos/pandos/pkg/arch"
	"github.com/go-pandos/pandos/pkg/hw"
	"github.com/go-pandos/pandos/pkg/kernel/asl"
	"github.com/go-pandos/pandos/pkg/kernel/device"
	"github.com/go-pandos/pandos/pkg/kernel/pcb"
)

// Tunable constants, overridable at boot via internal/config.
const (
	// Quantum is the maximum contiguous microseconds a process may hold
	// the CPU before preemption.
	Quantum uint64 = 5000

	// Interval is the pseudo-clock period in microseconds.
	Interval uint64 = 100000
)

// Panic is raised for INVARIANT_VIOLATION conditions: programming errors
// that leave kernel state unrecoverable. It is never recovered except at
// the top of Run, which logs it and returns it as an error.
type Panic struct {
	Reason string
}

func (p *Panic) Error() string { return fmt.Sprintf("kernel panic: %s", p.Reason) }

// ErrDeadlock is returned by Run when the scheduler detects system-wide
// deadlock: processes remain but none are ready or soft-blocked.
var ErrDeadlock = &Panic{Reason: "deadlock: ready queue empty, no soft-blocked processes, processes remain"}

// Kernel holds all kernel-global state.
type Kernel struct {
	hw  hw.Machine
	log *logrus.Entry

	// mu guards every field below against concurrent reads from Snapshot,
	// taken from the debug-socket goroutine. Run's own goroutine holds it
	// only while actually mutating state (schedule and handleEvent); the
	// LoadState call in between runs lock-free, but schedule's idle branch
	// holds it across Wait until the next interrupt arrives.
	mu sync.Mutex

	procs *pcb.Pool
	sems  *asl.Pool

	ready pcb.Queue

	procCount      int
	softBlockCount int
	current        *pcb.PCB

	deviceSem    [device.NumSemaphores]int32
	deviceStatus [device.NumSemaphores]uint32
	statusValid  [device.NumSemaphores]bool

	intervalDeadline uint64
	accountingStart  uint64

	quantum  uint64
	interval uint64
}

// Config overrides the compiled-in tunables.
type Config struct {
	Quantum  uint64
	Interval uint64
}

// New returns a booted-but-idle Kernel: pools initialized, device
// semaphores zeroed, and the interval deadline armed. The caller must
// still spawn at least one process via CreateInit before calling Run, or Run
// will observe procCount == 0 and halt immediately.
func New(m hw.Machine, cfg Config, log *logrus.Logger) *Kernel {
	if cfg.Quantum == 0 {
		cfg.Quantum = Quantum
	}
	if cfg.Interval == 0 {
		cfg.Interval = Interval
	}
	if log == nil {
		log = logrus.New()
	}
	k := &Kernel{
		hw:       m,
		log:      log.WithField("component", "kernel"),
		procs:    pcb.NewPool(),
		sems:     asl.NewPool(),
		quantum:  cfg.Quantum,
		interval: cfg.Interval,
	}
	k.intervalDeadline = m.Now() + k.interval
	return k
}

// CreateInit allocates the first process directly, bypassing the CREATE
// syscall (which requires a currentProc to be the parent). Used once at
// boot.
func (k *Kernel) CreateInit(state arch.State) (*pcb.PCB, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p := k.procs.Alloc()
	if p == nil {
		return nil, fmt.Errorf("kernel: pool exhausted at boot")
	}
	p.State = state
	k.ready.Insert(p)
	k.procCount++
	return p, nil
}

// ProcCount returns the number of live processes, for metrics and tests.
func (k *Kernel) ProcCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.procCount
}

// SoftBlockCount returns the number of processes soft-blocked on a device
// or the pseudo-clock, for metrics and tests.
func (k *Kernel) SoftBlockCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.softBlockCount
}

// Current returns the currently running PCB, or nil between dispatches.
func (k *Kernel) Current() *pcb.PCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// ReadyDepth returns the number of processes currently on the ready queue,
// for metrics and tests.
func (k *Kernel) ReadyDepth() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ready.Len()
}

// Run drives the kernel to completion: it dispatches ready processes,
// services interrupts and syscalls, and returns nil on clean completion
// (COMPLETION) or a *Panic on deadlock or invariant violation.
func (k *Kernel) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p, ok := r.(*Panic); ok {
				k.log.WithField("reason", p.Reason).Error("kernel panic")
				k.hw.Panic(p.Reason)
				err = p
				return
			}
			panic(r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if k.current == nil {
			halted, herr := k.schedule()
			if herr != nil {
				return herr
			}
			if halted {
				return nil
			}
			continue
		}

		ev := k.hw.LoadState(&k.current.State)
		k.mu.Lock()
		k.handleEvent(ev)
		k.mu.Unlock()
	}
}

func (k *Kernel) handleEvent(ev hw.Event) {
	switch ev.Kind {
	case hw.EventInterrupt:
		k.handleInterrupt(ev)
	case hw.EventSyscall:
		k.handleSyscall()
	case hw.EventProgramTrap:
		k.passUpOrDie(arch.VecPGM)
	case hw.EventTLBTrap:
		k.passUpOrDie(arch.VecTLB)
	default:
		panic(&Panic{Reason: fmt.Sprintf("unknown event kind %d", ev.Kind)})
	}
}
