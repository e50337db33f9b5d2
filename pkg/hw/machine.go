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

// Package hw defines the boundary between the kernel and the hardware it
// runs on: the TOD clock, the interval/quantum timer, device acknowledgement
// and status, and the load-state/wait primitives. Pending-interrupt
// arbitration stays on the hardware side; the kernel only sees the Event it
// produces.
// Everything in this package is an "external collaborator" per the core
// specification: the kernel is written against the Machine interface only,
// never against a concrete implementation.
package hw

import "github.com/go-pandos/pandos/pkg/arch"

// EventKind identifies what woke the kernel out of a suspension point.
type EventKind int

const (
	// EventInterrupt means a device, the interval timer, or the quantum
	// timer asserted an interrupt line.
	EventInterrupt EventKind = iota

	// EventSyscall means the running process executed a SYSCALL
	// instruction. The hardware has already written the faulting state
	// into the State pointer passed to LoadState.
	EventSyscall

	// EventProgramTrap means the running process raised a program trap
	// (illegal instruction, privilege violation, etc).
	EventProgramTrap

	// EventTLBTrap means the running process raised a TLB-miss trap.
	EventTLBTrap
)

// Event reports what woke the kernel.
type Event struct {
	Kind EventKind

	// Line is the highest-priority asserted interrupt line, valid when
	// Kind == EventInterrupt. The machine resolves line and device
	// priority itself; the kernel never scans a pending-interrupt bitmap.
	Line int

	// Device is the lowest-numbered asserted device on Line, valid when
	// Line addresses a device line (3-7).
	Device int

	// Status is the interrupting device's status word, valid under the
	// same condition as Device. For Line == 7 (terminal) its low nibble
	// distinguishes the receive and transmit subdevices; see
	// device.TerminalReady.
	Status uint32
}

// Machine is the hardware boundary the kernel core is built against. All
// durations and the clock are in microseconds. A Machine is not
// goroutine-safe from the kernel's perspective: the kernel calls it from a
// single goroutine only.
type Machine interface {
	// Now returns the current TOD in microseconds.
	Now() uint64

	// SetTimer arms the interval/quantum timer to fire after d
	// microseconds (0 fires as soon as possible).
	SetTimer(d uint64)

	// LoadState resumes execution of state (mutating it in place to
	// reflect whatever the hardware's next exception/interrupt leaves
	// behind) and blocks until the next exception or interrupt, which it
	// reports as an Event.
	LoadState(state *arch.State) Event

	// Wait enters the idle state (status: privileged, interrupts
	// enabled) and blocks until the next interrupt.
	Wait() Event

	// AckDevice writes ACK to device idx's command register.
	AckDevice(idx int)

	// DeviceStatus returns the latched status word for device idx and
	// clears the latch, reporting whether one was pending.
	DeviceStatus(idx int) (uint32, bool)

	// Halt stops the machine cleanly after system-wide completion.
	Halt()

	// Panic stops the machine with a diagnostic after an unrecoverable
	// kernel invariant violation or deadlock.
	Panic(reason string)
}
