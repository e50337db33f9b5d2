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

// Package sim implements hw.Machine against goroutine-simulated devices: a
// real TOD clock, a single-shot timer, and one goroutine per non-terminal
// device line that asserts interrupts with randomized latency and hands
// each event to the kernel's single consumer goroutine.
package sim

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/containerd/console"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/go-pandos/pandos/pkg/arch"
	"github.com/go-pandos/pandos/pkg/hw"
	"github.com/go-pandos/pandos/pkg/kernel/device"
	"github.com/go-pandos/pandos/pkg/workload"
)

// simulatedLines are the non-timer, non-terminal device lines driven
// autonomously by a background goroutine each. Timer (line 2) is driven by
// timerLoop; terminal (line 7) has no driver, so this machine never raises a
// terminal interrupt.
var simulatedLines = []int{device.LineDisk, device.LineTape, device.LineNetwork, device.LinePrinter}

// nowMicros reads CLOCK_MONOTONIC directly rather than through time.Now(),
// since the kernel's TOD arithmetic only ever needs a flat microsecond
// counter and never wall-clock date/time semantics.
func nowMicros() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return uint64(time.Now().UnixMicro())
	}
	return uint64(ts.Sec)*1e6 + uint64(ts.Nsec)/1e3
}

// Terminal models a line-7 device. Master is the process's current console
// when one is attached (nil otherwise); Slave is never set by this package.
type Terminal struct {
	Master console.Console
	Slave  console.Console
}

// Machine is the sim implementation of hw.Machine. It owns nothing the
// kernel touches directly; every field is guarded by its own goroutine or
// only ever read/written from the kernel's single consumer goroutine.
type Machine struct {
	events chan hw.Event
	acks   chan int

	timerDeadline chan uint64

	halted   chan struct{}
	panicked chan string

	terminals []Terminal

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New starts a Machine with numTerminals simulated terminal lines (capped at
// device.PerLine, each attached to the current console if there is one) and
// launches its device-simulation goroutines. Call Close to tear everything
// down.
func New(ctx context.Context, numTerminals int) (*Machine, error) {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	m := &Machine{
		events:        make(chan hw.Event),
		acks:          make(chan int, device.NumSemaphores),
		timerDeadline: make(chan uint64, 1),
		halted:        make(chan struct{}),
		panicked:      make(chan string, 1),
		group:         g,
		cancel:        cancel,
	}

	for i := 0; i < numTerminals && i < device.PerLine; i++ {
		term, err := newTerminal()
		if err != nil {
			cancel()
			return nil, err
		}
		m.terminals = append(m.terminals, term)
	}

	g.Go(func() error { return m.timerLoop(ctx) })
	for _, line := range simulatedLines {
		line := line
		g.Go(func() error { return m.deviceLoop(ctx, line) })
	}
	return m, nil
}

// deviceLoop asserts an interrupt from a random unit on line every so
// often, standing in for a real device's completion latency.
func (m *Machine) deviceLoop(ctx context.Context, line int) error {
	for {
		wait := time.Duration(50+rand.Intn(200)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		devNum := rand.Intn(device.PerLine)
		if err := m.FireDevice(ctx, line, devNum, 1); err != nil {
			return err
		}
	}
}

func newTerminal() (Terminal, error) {
	master, err := console.Current()
	if err != nil {
		// No real console is attached (e.g. running headless in CI); the
		// terminal is left empty.
		return Terminal{}, nil
	}
	return Terminal{Master: master}, nil
}

// Now returns the current TOD in microseconds.
func (m *Machine) Now() uint64 { return nowMicros() }

// SetTimer arms the quantum/interval timer.
func (m *Machine) SetTimer(d uint64) {
	select {
	case m.timerDeadline <- nowMicros() + d:
	default:
		// A timer is already armed and not yet consumed; replacing the
		// deadline requires draining first.
		select {
		case <-m.timerDeadline:
		default:
		}
		m.timerDeadline <- nowMicros() + d
	}
}

// LoadState resumes state. This simulation has no instruction-level ARM
// emulator, so a process with no scripted workload simply waits for the
// next real hardware event exactly as Wait does. A process carrying a
// workload.Program instead has its next step played back immediately, the
// same way a real process whose very first resumed instruction is a
// syscall would trap back out without needing an external event at all.
func (m *Machine) LoadState(state *arch.State) hw.Event {
	if ev, ok := m.stepProgram(state); ok {
		return ev
	}
	return m.next()
}

// stepProgram advances state.Workload by one step and synthesizes the
// matching syscall trap: it sets a1 (the service number) and whatever
// pointer argument the service reads, mirroring what real hardware would
// have left behind after trapping into the kernel.
func (m *Machine) stepProgram(state *arch.State) (hw.Event, bool) {
	step, ok := state.Workload.Next()
	if !ok {
		return hw.Event{}, false
	}
	switch step.Op {
	case workload.OpCreate:
		state.SetArg(0, arch.SysCreate)
		state.Ptr.InitState = &arch.State{
			Status:   arch.StatusKernel | arch.StatusIntEnable,
			Workload: step.Child,
		}
	case workload.OpTerminate:
		state.SetArg(0, arch.SysTerminate)
	case workload.OpV:
		state.SetArg(0, arch.SysV)
		state.Ptr.Sem = step.Sem
	case workload.OpP:
		state.SetArg(0, arch.SysP)
		state.Ptr.Sem = step.Sem
	case workload.OpWaitClock:
		state.SetArg(0, arch.SysWaitClock)
	case workload.OpWaitIO:
		state.SetArg(0, arch.SysWaitIO)
		state.SetArg(1, uint32(step.Line))
		state.SetArg(2, uint32(step.Device))
		if step.WaitForRead {
			state.SetArg(3, 1)
		} else {
			state.SetArg(3, 0)
		}
	}
	return hw.Event{Kind: hw.EventSyscall}, true
}

// Wait blocks for the next event.
func (m *Machine) Wait() hw.Event { return m.next() }

func (m *Machine) next() hw.Event {
	select {
	case ev := <-m.events:
		return ev
	}
}

// AckDevice records that the kernel acknowledged device idx's interrupt.
func (m *Machine) AckDevice(idx int) {
	select {
	case m.acks <- idx:
	default:
	}
}

// DeviceStatus is unused by the kernel directly (it tracks cached status
// itself); retained to satisfy hw.Machine for symmetry with a
// register-backed implementation.
func (m *Machine) DeviceStatus(idx int) (uint32, bool) { return 0, false }

// Halt stops the machine after clean completion.
func (m *Machine) Halt() {
	close(m.halted)
	m.cancel()
}

// Panic stops the machine after an unrecoverable kernel error.
func (m *Machine) Panic(reason string) {
	select {
	case m.panicked <- reason:
	default:
	}
	m.cancel()
}

// Close waits for all device goroutines to exit.
func (m *Machine) Close() error {
	m.cancel()
	return m.group.Wait()
}

// timerLoop delivers a line-2 interrupt every time an armed deadline
// elapses.
func (m *Machine) timerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case deadline := <-m.timerDeadline:
			d := time.Duration(0)
			if now := nowMicros(); deadline > now {
				d = time.Duration(deadline-now) * time.Microsecond
			}
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			select {
			case m.events <- hw.Event{Kind: hw.EventInterrupt, Line: device.LineTimer}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// FireDevice delivers an interrupt from a non-terminal device. The send is
// wrapped in backoff.Retry, but the operation never returns an error, so it
// runs once with no backoff delay; the simulated latency comes from
// deviceLoop's randomized wait before the call.
func (m *Machine) FireDevice(ctx context.Context, line, devNum int, status uint32) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		select {
		case m.events <- hw.Event{Kind: hw.EventInterrupt, Line: line, Device: devNum, Status: status}:
			return nil
		case <-ctx.Done():
			return nil
		}
	}, b)
}
