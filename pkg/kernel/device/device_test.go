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

package device

import "testing"

func TestWaitIOIndex(t *testing.T) {
	cases := []struct {
		name        string
		line, dev   int
		waitForRead bool
		want        int
	}{
		{"disk 0", LineDisk, 0, true, DiskBase + 0},
		{"tape 3", LineTape, 3, true, TapeBase + 3},
		{"network 7", LineNetwork, 7, true, NetworkBase + 7},
		{"printer 2", LinePrinter, 2, true, PrinterBase + 2},
		{"terminal recv", LineTerminal, 5, true, TermRecvBase + 5},
		{"terminal xmit", LineTerminal, 5, false, TermXmitBase + 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := WaitIOIndex(c.line, c.dev, c.waitForRead); got != c.want {
				t.Errorf("WaitIOIndex(%d,%d,%v) = %d, want %d", c.line, c.dev, c.waitForRead, got, c.want)
			}
		})
	}
}

func TestLayoutIsContiguousAndSized(t *testing.T) {
	if ClockIndex != NumSemaphores-1 {
		t.Fatalf("ClockIndex = %d, want last index %d", ClockIndex, NumSemaphores-1)
	}
	if NumSemaphores != 4*PerLine+2*PerLine+1 {
		t.Fatalf("NumSemaphores = %d, want %d", NumSemaphores, 4*PerLine+2*PerLine+1)
	}
}

func TestTerminalReady(t *testing.T) {
	if !TerminalReady(0xAB00 | Ready) {
		t.Fatalf("TerminalReady should ignore high bits, keying off the low nibble")
	}
	if TerminalReady(0x0000) {
		t.Fatalf("TerminalReady(0) should be false")
	}
}
