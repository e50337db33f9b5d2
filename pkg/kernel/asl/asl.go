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

// Package asl implements the Active Semaphore List: a sorted singly-linked
// list of semaphore descriptors drawn from a fixed pool, each owning a
// circular queue of PCBs blocked on that semaphore. A descriptor exists in
// the list iff its queue is non-empty.
package asl

import (
	"math"

	"github.com/go-pandos/pandos/pkg/kernel/pcb"
)

// MaxKey is the key of the tail sentinel; no real semaphore address may
// equal it.
const MaxKey = math.MaxUint64

// descriptor is an ASL node: a semaphore's address, its blocked-PCB queue,
// and the list successor.
type descriptor struct {
	semAddr uintptr
	queue   pcb.Queue
	next    *descriptor
}

// Pool is the fixed pool of semaphore descriptors plus the two permanent
// sentinels (keys 0 and MaxKey) that guard the sorted list. Pool size is
// pcb.MaxProc+2: at most pcb.MaxProc distinct semaphores can have a
// blocked process at once, since each blocked process occupies exactly one
// queue slot across the whole ASL.
type Pool struct {
	descs [pcb.MaxProc]descriptor
	free  []*descriptor
	head  *descriptor
	tail  *descriptor
}

// NewPool returns an ASL with both sentinels linked and every real
// descriptor slot free.
func NewPool() *Pool {
	p := &Pool{free: make([]*descriptor, 0, pcb.MaxProc)}
	for i := range p.descs {
		p.free = append(p.free, &p.descs[i])
	}
	p.head = &descriptor{semAddr: 0}
	p.tail = &descriptor{semAddr: MaxKey}
	p.head.next = p.tail
	return p
}

// findPred returns the descriptor whose next has the smallest key >= key
// (the predecessor of a would-be or existing node with that key).
func (p *Pool) findPred(key uintptr) *descriptor {
	n := p.head
	for n.next.semAddr < uintptr(key) {
		n = n.next
	}
	return n
}

// InsertBlocked enqueues process on the blocked queue for semAddr,
// allocating a new descriptor if none exists yet for that address. It
// returns false only when a new descriptor was required and the pool was
// exhausted, in which case process is not enqueued.
func (p *Pool) InsertBlocked(semAddr uintptr, process *pcb.PCB) bool {
	pred := p.findPred(semAddr)
	if pred.next.semAddr == semAddr {
		pred.next.queue.Insert(process)
		process.SemAddr = semAddr
		return true
	}
	n := len(p.free)
	if n == 0 {
		return false
	}
	d := p.free[n-1]
	p.free = p.free[:n-1]
	*d = descriptor{semAddr: semAddr}
	d.next = pred.next
	pred.next = d
	d.queue.Insert(process)
	process.SemAddr = semAddr
	return true
}

// RemoveBlocked pops the head of semAddr's blocked queue, freeing the
// descriptor if the queue becomes empty. Returns nil if no descriptor
// matches semAddr.
func (p *Pool) RemoveBlocked(semAddr uintptr) *pcb.PCB {
	pred := p.findPred(semAddr)
	d := pred.next
	if d.semAddr != semAddr {
		return nil
	}
	victim := d.queue.RemoveHead()
	if victim == nil {
		return nil
	}
	if d.queue.Empty() {
		p.unlink(pred, d)
	}
	return victim
}

// OutBlocked removes process from its descriptor's queue by linear search,
// freeing the descriptor if its queue becomes empty. Returns nil if
// process was not actually on semAddr's queue.
func (p *Pool) OutBlocked(semAddr uintptr, process *pcb.PCB) *pcb.PCB {
	pred := p.findPred(semAddr)
	d := pred.next
	if d.semAddr != semAddr {
		return nil
	}
	victim := d.queue.RemoveAny(process)
	if victim == nil {
		return nil
	}
	if d.queue.Empty() {
		p.unlink(pred, d)
	}
	return victim
}

// HeadBlocked peeks at the head of semAddr's blocked queue without
// mutating anything. Returns nil if no descriptor matches semAddr.
func (p *Pool) HeadBlocked(semAddr uintptr) *pcb.PCB {
	pred := p.findPred(semAddr)
	d := pred.next
	if d.semAddr != semAddr {
		return nil
	}
	return d.queue.Head()
}

func (p *Pool) unlink(pred, d *descriptor) {
	pred.next = d.next
	*d = descriptor{}
	p.free = append(p.free, d)
}

// Len returns the number of live (non-sentinel) descriptors, for testing.
func (p *Pool) Len() int {
	n := 0
	for d := p.head.next; d != p.tail; d = d.next {
		n++
	}
	return n
}

// Entry summarizes one live descriptor, for debug inspection.
type Entry struct {
	SemAddr uintptr
	Blocked int
}

// Entries returns every live descriptor's address and blocked-queue depth,
// in ascending address order.
func (p *Pool) Entries() []Entry {
	var out []Entry
	for d := p.head.next; d != p.tail; d = d.next {
		out = append(out, Entry{SemAddr: d.semAddr, Blocked: d.queue.Len()})
	}
	return out
}
