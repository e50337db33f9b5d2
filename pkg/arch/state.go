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

// Package arch describes the architecture-dependent processor state shared
// between the kernel and the simulated ARM-like hardware. The kernel treats
// State as opaque except for a handful of named fields, and hands whole
// states to the hardware load-state primitive.
package arch

import "github.com/go-pandos/pandos/pkg/workload"

// NumGPR is the number of general-purpose registers modeled.
const NumGPR = 29

// NumArgRegs is the number of syscall argument registers (a1-a4).
const NumArgRegs = 4

// Status is the processor status word: mode and interrupt-enable bits.
type Status uint32

const (
	// StatusUser indicates the processor is in unprivileged (user) mode.
	// This is the zero value: a fresh State starts in user mode.
	StatusUser Status = 0

	// StatusKernel indicates the processor is in privileged (kernel) mode.
	StatusKernel Status = 1 << 0

	// StatusIntEnable indicates interrupts are enabled.
	StatusIntEnable Status = 1 << 1

	// StatusVMOn indicates virtual memory translation is enabled. The
	// kernel always boots with this clear; VM is out of scope.
	StatusVMOn Status = 1 << 2
)

// Kernel reports whether s has the privileged-mode bit set.
func (s Status) Kernel() bool { return s&StatusKernel != 0 }

// IntEnabled reports whether s has interrupts enabled.
func (s Status) IntEnabled() bool { return s&StatusIntEnable != 0 }

// KernelMode is the status word the hardware installs on entry to any
// exception or interrupt handler: privileged, interrupts disabled, VM off.
const KernelMode = StatusKernel

// State is the saved processor state: general registers, stack pointer,
// program counter, status word, VM control, and the two TOD (time-of-day)
// words. The kernel copies whole States between the hardware's old/new
// areas and a PCB, and inspects only PC, SP, Status, the argument
// registers, and Cause.
type State struct {
	GPR    [NumGPR]uint32
	SP     uint32
	PC     uint32
	Status Status
	VMCtrl uint32
	TODHi  uint32
	TODLo  uint32

	// Cause holds the fault-cause field inspected on program/TLB traps
	// and synthesized for the reserved-instruction program trap.
	Cause uint32

	// Ptr carries the current syscall's pointer-valued arguments, if any.
	// The caller populates only the field the requested service reads.
	Ptr PtrArgs

	// Workload is the scripted syscall program a simulated hw.Machine
	// steps through on this process's behalf in place of real compiled
	// code. Copied by value along with the rest of State on CREATE, so a
	// CREATEd child inherits whatever program its template state named.
	// nil for a process (e.g. an unscripted boot-time init) driven purely
	// by external interrupts.
	Workload *workload.Program
}

// Fault causes recognized by the dispatcher. Only ReservedInstruction is
// ever synthesized by the kernel itself; the rest are reported verbatim by
// the simulated hardware.
const (
	CauseReservedInstruction uint32 = 10
)

// PrefetchOffset is subtracted from an interrupted process's saved PC so
// the interrupted instruction re-executes on resume. The interrupt handler
// applies it unconditionally, including to timer interrupts where it is
// harmless rather than necessary.
const PrefetchOffset uint32 = 4

// Arg returns syscall argument register i (0-based, so Arg(0) is a1).
func (s *State) Arg(i int) uint32 {
	return s.GPR[i]
}

// SetArg sets syscall argument register i (0-based).
func (s *State) SetArg(i int, v uint32) {
	s.GPR[i] = v
}

// PtrArgs carries the pointer-valued syscall arguments of CREATE, V, P, and
// SPECTRAPVEC. The simulated machine has a single address space and no
// virtual memory, so these travel as live Go pointers rather than as
// register-width addresses the kernel would otherwise have to translate.
type PtrArgs struct {
	// InitState is CREATE's a2: the state to copy into the new PCB.
	InitState *State

	// Sem is V's and P's a2: the backing word of a user counting
	// semaphore.
	Sem *int32

	// OldArea and NewArea are SPECTRAPVEC's a3 and a4.
	OldArea *State
	NewArea *State
}

// Vector is an exception vector triple: the address (in this simulation, a
// pointer to a State) of the old area the hardware writes the faulting
// state to, and of the new area the hardware loads state from. Both nil
// means unset.
type Vector struct {
	OldArea *State
	NewArea *State
}

// Registered reports whether both halves of the vector have been set via
// SPECTRAPVEC. A vector is never partially registered.
func (v Vector) Registered() bool {
	return v.OldArea != nil && v.NewArea != nil
}

// VectorKind enumerates the three trap types a process can register a
// handler for.
type VectorKind int

const (
	VecTLB VectorKind = iota
	VecPGM
	VecSYS
	NumVecKinds
)

// String implements fmt.Stringer.
func (k VectorKind) String() string {
	switch k {
	case VecTLB:
		return "TLB"
	case VecPGM:
		return "PGM"
	case VecSYS:
		return "SYS"
	default:
		return "unknown"
	}
}
