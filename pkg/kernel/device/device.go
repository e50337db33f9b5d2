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

// Package device defines the fixed device layout: interrupt line numbers,
// per-line device counts, the semaphore/status-array index scheme, and the
// register-block and command/status word constants the interrupt handler
// and the syscall dispatcher agree on with the simulated hardware.
package device

// Interrupt line numbers. Lines 0 and 1 are multiprocessor IPIs and are
// never valid on this single-CPU machine.
const (
	LineIPI0     = 0
	LineIPI1     = 1
	LineTimer    = 2
	LineDisk     = 3
	LineTape     = 4
	LineNetwork  = 5
	LinePrinter  = 6
	LineTerminal = 7

	NumLines = 8
)

// PerLine is the number of device instances on each of lines 3-7.
const PerLine = 8

// Semaphore/status array layout. Terminal transmit occupies the 8 indices
// immediately after terminal receive; the pseudo-clock is the final slot.
const (
	DiskBase     = 0
	TapeBase     = DiskBase + PerLine
	NetworkBase  = TapeBase + PerLine
	PrinterBase  = NetworkBase + PerLine
	TermRecvBase = PrinterBase + PerLine
	TermXmitBase = TermRecvBase + PerLine
	ClockIndex   = TermXmitBase + PerLine

	// NumSemaphores is the size of the device semaphore and device status
	// arrays: one entry per non-terminal device, one per terminal
	// subdevice, plus the pseudo-clock.
	NumSemaphores = ClockIndex + 1
)

// lineBase returns the semaphore-array base index for a non-terminal line
// (3-6). Terminal (line 7) is handled separately because it has two
// subdevices; see TermRecvIndex/TermXmitIndex.
func lineBase(line int) int {
	switch line {
	case LineDisk:
		return DiskBase
	case LineTape:
		return TapeBase
	case LineNetwork:
		return NetworkBase
	case LinePrinter:
		return PrinterBase
	default:
		panic("device: lineBase called with non-device line")
	}
}

// Index returns the device-semaphore-array index for device dev on a
// non-terminal line (3-6), per the WAITIO encoding: idx = 8*(line-3) + dev.
// It panics for any other line; terminal indices come from WaitIOIndex,
// TermRecvIndex, or TermXmitIndex.
func Index(line, dev int) int {
	return lineBase(line) + dev
}

// TermRecvIndex returns the receive-subdevice index for terminal dev.
func TermRecvIndex(dev int) int { return TermRecvBase + dev }

// TermXmitIndex returns the transmit-subdevice index for terminal dev.
func TermXmitIndex(dev int) int { return TermXmitBase + dev }

// WaitIOIndex implements the index computation of syscall 8 (WAITIO):
// idx = 8*(line-3) + devNum, plus 8 more if line is the terminal line and
// the caller is not waiting for a read (i.e. wants the transmit
// subdevice).
func WaitIOIndex(line, devNum int, waitForRead bool) int {
	if line == LineTerminal {
		if waitForRead {
			return TermRecvIndex(devNum)
		}
		return TermXmitIndex(devNum)
	}
	return Index(line, devNum)
}

// Command word constants.
const (
	// ACK is written to a device's command register to acknowledge its
	// interrupt.
	ACK uint32 = 1
)

// Ready is the low-nibble value of a terminal subdevice's status word
// indicating that subdevice completed its operation.
const Ready uint32 = 1

// TerminalReady reports whether a terminal status word's low nibble
// indicates the receive subdevice completed (as opposed to transmit).
func TerminalReady(status uint32) bool {
	return status&0xF == Ready
}
