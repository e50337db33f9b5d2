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

package kernel

import (
	"fmt"
	"unsafe"

	"github.com/go-pandos/pandos/pkg/arch"
	"github.com/go-pandos/pandos/pkg/kernel/device"
	"github.com/go-pandos/pandos/pkg/kernel/pcb"
)

// semAddr returns the ASL key identifying the counting semaphore backed by
// v. The result is never converted back into a pointer; it exists only as
// an opaque, comparable identity for the active semaphore list.
func semAddr(v *int32) uintptr {
	return uintptr(unsafe.Pointer(v))
}

// handleSyscall implements the syscall handler of section 4.4. The
// hardware has already written the faulting state into k.current.State
// (LoadState mutates the pointer Run passed it in place), so there is no
// separate old-area copy to perform.
func (k *Kernel) handleSyscall() {
	s := &k.current.State
	sysno := s.Arg(0)

	if sysno == 0 || sysno > arch.MaxSyscall {
		k.passUpOrDie(arch.VecSYS)
		return
	}
	if !s.Status.Kernel() {
		s.Cause = arch.CauseReservedInstruction
		k.passUpOrDie(arch.VecPGM)
		return
	}

	switch sysno {
	case arch.SysCreate:
		k.doCreate(s)
	case arch.SysTerminate:
		k.terminateTree(k.current)
	case arch.SysV:
		k.doV(s)
	case arch.SysP:
		k.doP(s)
	case arch.SysSpecTrapVec:
		k.doSpecTrapVec(s)
	case arch.SysGetCPUTime:
		k.updateTime()
		s.SetArg(0, uint32(k.current.CPUTime))
	case arch.SysWaitClock:
		k.doWaitClock()
	case arch.SysWaitIO:
		k.doWaitIO(s)
	default:
		panic(&Panic{Reason: fmt.Sprintf("invariant violation: unhandled syscall number %d", sysno)})
	}
}

// doCreate implements service 1 (CREATE).
func (k *Kernel) doCreate(s *arch.State) {
	np := k.procs.Alloc()
	if np == nil {
		s.SetArg(0, ^uint32(0)) // -1 as a 32-bit register value
		return
	}
	np.State = *s.Ptr.InitState
	pcb.InsertChild(k.current, np)
	k.ready.Insert(np)
	k.procCount++
	s.SetArg(0, 0)
}

// doV implements service 3 (V).
func (k *Kernel) doV(s *arch.State) {
	sem := s.Ptr.Sem
	*sem++
	if *sem <= 0 {
		victim := k.sems.RemoveBlocked(semAddr(sem))
		if victim == nil {
			panic(&Panic{Reason: "invariant violation: V found no blocked waiter for a non-positive semaphore"})
		}
		unblock(victim)
		k.ready.Insert(victim)
	}
}

// doP implements service 4 (P).
func (k *Kernel) doP(s *arch.State) {
	sem := s.Ptr.Sem
	*sem--
	if *sem < 0 {
		k.blockCurrentOn(semAddr(sem), sem, false)
	}
}

// doSpecTrapVec implements service 5 (SPECTRAPVEC).
func (k *Kernel) doSpecTrapVec(s *arch.State) {
	kind := arch.VectorKind(s.Arg(1))
	if k.current.Vectors[kind].Registered() {
		k.terminateTree(k.current)
		return
	}
	k.current.Vectors[kind] = arch.Vector{OldArea: s.Ptr.OldArea, NewArea: s.Ptr.NewArea}
}

// doWaitClock implements service 7 (WAITCLOCK): a standard P on the
// pseudo-clock semaphore, which must always go strictly negative since
// nothing but the interval handler ever Vs it.
func (k *Kernel) doWaitClock() {
	k.deviceSem[device.ClockIndex]--
	if k.deviceSem[device.ClockIndex] >= 0 {
		panic(&Panic{Reason: "invariant violation: WAITCLOCK counter not negative after decrement"})
	}
	k.blockCurrentOn(semAddr(&k.deviceSem[device.ClockIndex]), nil, true)
}

// doWaitIO implements service 8 (WAITIO).
func (k *Kernel) doWaitIO(s *arch.State) {
	line := int(s.Arg(1))
	devNum := int(s.Arg(2))
	waitForRead := s.Arg(3) != 0
	idx := device.WaitIOIndex(line, devNum, waitForRead)

	k.deviceSem[idx]--
	if k.deviceSem[idx] < 0 {
		k.blockCurrentOn(semAddr(&k.deviceSem[idx]), nil, true)
		return
	}
	status := k.deviceStatus[idx]
	k.statusValid[idx] = false
	s.SetArg(0, status)
}

// blockCurrentOn charges accounting time, enqueues k.current onto semAddr's
// blocked queue, records whether it's a device wait, and clears current so
// Run's loop re-enters the scheduler. sem is nil for device/clock waits,
// which credit softBlockCount instead of a user semaphore on termination.
func (k *Kernel) blockCurrentOn(addr uintptr, sem *int32, isDevice bool) {
	k.updateTime()
	if !k.sems.InsertBlocked(addr, k.current) {
		panic(&Panic{Reason: "invariant violation: semaphore descriptor pool exhausted"})
	}
	k.current.UserSem = sem
	k.current.BlockedOnDevice = isDevice
	if isDevice {
		k.softBlockCount++
	}
	k.current = nil
}

// unblock clears the queue/semaphore bookkeeping RemoveBlocked and
// OutBlocked leave behind on a PCB they just detached.
func unblock(p *pcb.PCB) {
	p.SemAddr = 0
	p.UserSem = nil
	p.BlockedOnDevice = false
}

// passUpOrDie implements the shared program/TLB/syscall trap policy: resume
// at the process's registered handler if one exists for kind, else
// terminate the process and its descendants.
func (k *Kernel) passUpOrDie(kind arch.VectorKind) {
	v := k.current.Vectors[kind]
	if v.Registered() {
		*v.OldArea = k.current.State
		k.current.State = *v.NewArea
		return
	}
	k.terminateTree(k.current)
}

// terminateTree implements service 2 (TERMINATE): an iterative post-order
// walk of root's descendant subtree (root included), freeing each PCB only
// after all of its children are gone. An explicit stack stands in for
// recursion, which section 9's design notes call out as unnecessary given
// the tree is bounded by the process pool.
func (k *Kernel) terminateTree(root *pcb.PCB) {
	stack := []*pcb.PCB{root}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if c := top.FirstChild(); c != nil {
			stack = append(stack, c)
			continue
		}
		stack = stack[:len(stack)-1]
		k.terminateOne(top)
	}
}

// terminateOne frees a single victim per the per-victim policy of service 2.
func (k *Kernel) terminateOne(p *pcb.PCB) {
	switch {
	case p == k.current:
		k.current = nil
	case p.SemAddr == 0:
		k.ready.RemoveAny(p)
	case p.BlockedOnDevice:
		k.sems.OutBlocked(p.SemAddr, p)
		k.softBlockCount--
	default:
		k.sems.OutBlocked(p.SemAddr, p)
		*p.UserSem++
	}
	pcb.RemoveFromSiblings(p)
	k.procs.Free(p)
	k.procCount--
}
