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

	"github.com/go-pandos/pandos/pkg/arch"
	"github.com/go-pandos/pandos/pkg/hw"
	"github.com/go-pandos/pandos/pkg/kernel/device"
)

// handleInterrupt implements the interrupt handler of section 4.5. The
// machine has already resolved line and device priority (ev.Line is the
// highest-priority asserted line, ev.Device the lowest-numbered asserted
// device on it); the kernel only validates that the line is one it
// supports and dispatches.
func (k *Kernel) handleInterrupt(ev hw.Event) {
	if ev.Line == device.LineIPI0 || ev.Line == device.LineIPI1 {
		panic(&Panic{Reason: fmt.Sprintf("invariant violation: interrupt on unsupported line %d", ev.Line)})
	}

	if k.current != nil {
		k.current.State.PC -= arch.PrefetchOffset
		k.updateTime()
	}

	switch ev.Line {
	case device.LineTimer:
		k.handleTimerInterrupt()
	case device.LineDisk, device.LineTape, device.LineNetwork, device.LinePrinter:
		idx := device.Index(ev.Line, ev.Device)
		k.signalDevice(idx, ev.Status)
		k.hw.AckDevice(idx)
	case device.LineTerminal:
		k.handleTerminalInterrupt(ev.Device, ev.Status)
	default:
		panic(&Panic{Reason: fmt.Sprintf("invariant violation: unknown interrupt line %d", ev.Line)})
	}
}

// handleTimerInterrupt implements line 2. An interval firing and an
// end-of-quantum preemption are mutually exclusive outcomes of the same
// line: the scheduler always arms the timer for the shorter of the
// quantum remaining and the interval remaining, so if the interval turns
// out to be what fired, the current process has not exhausted its
// quantum and keeps running.
func (k *Kernel) handleTimerInterrupt() {
	now := k.hw.Now()
	if now >= k.intervalDeadline {
		k.drainClock(now)
		return
	}
	if k.current != nil {
		k.ready.Insert(k.current)
		k.current = nil
	}
}

// drainClock implements the interval timer handler: every process waiting
// on the pseudo-clock is released, and the clock is rearmed.
func (k *Kernel) drainClock(now uint64) {
	for {
		victim := k.sems.RemoveBlocked(semAddr(&k.deviceSem[device.ClockIndex]))
		if victim == nil {
			break
		}
		unblock(victim)
		k.softBlockCount--
		k.ready.Insert(victim)
	}
	k.deviceSem[device.ClockIndex] = 0
	k.intervalDeadline = now + k.interval
}

// handleTerminalInterrupt implements line 7, which carries two
// subdevices per unit. status's low nibble says which one fired.
func (k *Kernel) handleTerminalInterrupt(devNum int, status uint32) {
	var idx int
	if device.TerminalReady(status) {
		idx = device.TermRecvIndex(devNum)
	} else {
		idx = device.TermXmitIndex(devNum)
	}
	k.signalDevice(idx, status)
	k.hw.AckDevice(idx)
}

// signalDevice implements the shared V-and-wake-or-cache step used by
// every device and terminal subdevice interrupt: V deviceSem[idx], and
// either hand status to the waiter it finds or cache it for a WAITIO that
// hasn't arrived yet.
func (k *Kernel) signalDevice(idx int, status uint32) {
	k.deviceSem[idx]++
	if k.deviceSem[idx] <= 0 {
		victim := k.sems.RemoveBlocked(semAddr(&k.deviceSem[idx]))
		if victim == nil {
			panic(&Panic{Reason: "invariant violation: device interrupt found no waiter for a non-positive semaphore"})
		}
		unblock(victim)
		victim.State.SetArg(0, status)
		k.softBlockCount--
		k.ready.Insert(victim)
		return
	}
	k.deviceStatus[idx] = status
	k.statusValid[idx] = true
}
