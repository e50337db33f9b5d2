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

// schedule implements the scheduler policy of section 4.3.
//
// Precondition: k.current == nil.
//
// It returns (true, nil) on clean completion (the caller should stop
// Run's loop), or (false, nil) once either a process has been dispatched
// (k.current is now set, and Run should LoadState it) or an idle-path
// interrupt has been handled inline (k.current may still be nil, and Run
// should call schedule again). Deadlock panics with a *Panic, caught at
// the top of Run.
func (k *Kernel) schedule() (halted bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.ready.Empty() {
		p := k.ready.RemoveHead()
		k.current = p
		now := k.hw.Now()
		d := k.quantum
		if rem := timeUntil(k.intervalDeadline, now); rem < d {
			d = rem
		}
		k.hw.SetTimer(d)
		k.accountingStart = now
		return false, nil
	}

	if k.procCount == 0 {
		k.log.Info("system completion: no processes remain")
		k.hw.Halt()
		return true, nil
	}

	if k.softBlockCount == 0 {
		panic(ErrDeadlock)
	}

	// Idle: enable interrupts, privileged mode, wait for the next one.
	k.hw.SetTimer(timeUntil(k.intervalDeadline, k.hw.Now()))
	ev := k.hw.Wait()
	k.handleEvent(ev)
	return false, nil
}

// updateTime charges the time since accountingStart to the running
// process and advances accountingStart to now. Precondition: k.current !=
// nil. Time spent blocked is never charged, since accountingStart is only
// (re)set when a process starts or resumes running.
func (k *Kernel) updateTime() {
	now := k.hw.Now()
	k.current.CPUTime += now - k.accountingStart
	k.accountingStart = now
}

// timeUntil returns deadline-now clamped to a non-negative value. A
// non-positive result forces an immediate timer interrupt, which is
// handled normally by the interrupt dispatcher.
func timeUntil(deadline, now uint64) uint64 {
	if deadline <= now {
		return 0
	}
	return deadline - now
}
