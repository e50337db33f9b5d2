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
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// ReadyEntry names one PCB on the ready queue, by its stable pool slot
// index rather than a PID the kernel has no notion of.
type ReadyEntry struct {
	Proc int `json:"proc"`
}

// SemEntry summarizes one live ASL descriptor.
type SemEntry struct {
	Addr    string `json:"addr"`
	Blocked int    `json:"blocked"`
}

// DeviceEntry summarizes one device or pseudo-clock semaphore slot whose
// value is non-zero or whose status word is cached.
type DeviceEntry struct {
	Index       int    `json:"index"`
	Value       int32  `json:"value"`
	StatusValid bool   `json:"status_valid"`
	Status      uint32 `json:"status"`
}

// Snapshot is the debug socket's wire format: the ready queue, the active
// semaphore list, and any device slots with interesting state.
type Snapshot struct {
	ProcCount      int           `json:"proc_count"`
	SoftBlockCount int           `json:"soft_block_count"`
	Ready          []ReadyEntry  `json:"ready"`
	Semaphores     []SemEntry    `json:"semaphores"`
	Devices        []DeviceEntry `json:"devices"`
}

// Snapshot captures the kernel's current ready queue, ASL, and device
// status arrays. Safe to call from any goroutine; it takes the same lock
// Run holds while mutating this state.
func (k *Kernel) Snapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := Snapshot{ProcCount: k.procCount, SoftBlockCount: k.softBlockCount}
	for _, p := range k.ready.Entries() {
		s.Ready = append(s.Ready, ReadyEntry{Proc: k.procs.Index(p)})
	}
	for _, e := range k.sems.Entries() {
		s.Semaphores = append(s.Semaphores, SemEntry{Addr: fmt.Sprintf("%#x", e.SemAddr), Blocked: e.Blocked})
	}
	for i := range k.deviceSem {
		if k.deviceSem[i] != 0 || k.statusValid[i] {
			s.Devices = append(s.Devices, DeviceEntry{
				Index:       i,
				Value:       k.deviceSem[i],
				StatusValid: k.statusValid[i],
				Status:      k.deviceStatus[i],
			})
		}
	}
	return s
}

// ServeDebug listens on addr and writes one JSON-encoded Snapshot per
// accepted connection, closing the connection immediately after. It is the
// kernel's debug socket: a low-ceremony way for cmd/pandos dump to inspect
// a live kernel without the syscall/interrupt path ever touching the
// network. Blocks until ctx is canceled or the listener fails.
func (k *Kernel) ServeDebug(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("kernel: debug socket: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go func() {
			defer conn.Close()
			json.NewEncoder(conn).Encode(k.Snapshot())
		}()
	}
}
