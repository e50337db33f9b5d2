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

// Package pcb implements the process control block pool, the circular
// doubly-linked process queues built on top of it, and the parent/child
// sibling tree. The pool is fixed-size: no PCB is ever allocated outside of
// it, and no dynamic memory is used to represent queue or tree membership.
package pcb

import "github.com/go-pandos/pandos/pkg/arch"

// MaxProc is the maximum number of simultaneously live processes.
const MaxProc = 20

// PCB is a process control block. A PCB is a member of at most one queue
// (the ready queue or exactly one semaphore's blocked queue) at any time,
// tracked via next/prev, and of at most one parent/child tree, tracked via
// parent/firstChild/nextSibling/prevSibling.
type PCB struct {
	next, prev              *PCB
	parent, firstChild      *PCB
	nextSibling, prevSibling *PCB

	// State is this process's saved processor state.
	State arch.State

	// CPUTime is the total microseconds charged to this process. It is
	// monotonic and survives preemptions; only time spent running counts.
	CPUTime uint64

	// SemAddr is the address of the semaphore this PCB is blocked on, or 0
	// when the PCB is not blocked on a semaphore (including when it's on
	// the ready queue).
	SemAddr uintptr

	// UserSem is the backing word of the user semaphore this PCB is
	// blocked on, nil when SemAddr == 0 or BlockedOnDevice is true. Kept
	// alongside SemAddr so TERMINATE can credit +1 without translating
	// the address back into a pointer.
	UserSem *int32

	// BlockedOnDevice reports whether SemAddr names a device or
	// pseudo-clock semaphore rather than a user one. Device waiters are
	// never credited on termination; their wakeup is simply absorbed.
	BlockedOnDevice bool

	// Vectors holds the three exception vector triples a process may
	// register via SPECTRAPVEC, indexed by arch.VectorKind.
	Vectors [arch.NumVecKinds]arch.Vector
}

// Parent returns p's parent, or nil if p is a root or orphaned.
func (p *PCB) Parent() *PCB { return p.parent }

// FirstChild returns p's most-recently-inserted child, or nil if p has none.
func (p *PCB) FirstChild() *PCB { return p.firstChild }

// NextSibling returns the sibling inserted after p (i.e. closer to
// p.parent.FirstChild), or nil if p is the first child.
func (p *PCB) NextSibling() *PCB { return p.nextSibling }

// PrevSibling returns the sibling inserted before p, or nil if p is the
// oldest child.
func (p *PCB) PrevSibling() *PCB { return p.prevSibling }

// Pool is the fixed pool of MaxProc PCBs and their free list.
type Pool struct {
	procs [MaxProc]PCB
	free  []*PCB
}

// NewPool returns a pool with all PCBs free.
func NewPool() *Pool {
	p := &Pool{free: make([]*PCB, 0, MaxProc)}
	for i := range p.procs {
		p.free = append(p.free, &p.procs[i])
	}
	return p
}

// Alloc returns a zeroed PCB from the free pool, or nil if the pool is
// exhausted.
func (p *Pool) Alloc() *PCB {
	n := len(p.free)
	if n == 0 {
		return nil
	}
	pc := p.free[n-1]
	p.free = p.free[:n-1]
	*pc = PCB{}
	return pc
}

// Free returns pc to the pool. The caller guarantees pc is no longer a
// member of any queue or tree.
func (p *Pool) Free(pc *PCB) {
	*pc = PCB{}
	p.free = append(p.free, pc)
}

// Index returns pc's slot number in the pool, stable for pc's lifetime and
// useful as a debug-facing process identifier. Returns -1 if pc is not a
// member of p.
func (p *Pool) Index(pc *PCB) int {
	for i := range p.procs {
		if &p.procs[i] == pc {
			return i
		}
	}
	return -1
}

// InUse returns the number of PCBs currently allocated (outside the free
// pool).
func (p *Pool) InUse() int {
	return len(p.procs) - len(p.free)
}

// Queue is a circular doubly-linked queue of PCBs, addressed by a mutable
// tail pointer. The zero Queue is empty.
type Queue struct {
	tail *PCB
	n    int
}

// Empty reports whether q has no members.
func (q *Queue) Empty() bool { return q.tail == nil }

// Len returns the number of PCBs currently in q.
func (q *Queue) Len() int { return q.n }

// Entries returns every PCB in q, head first, without mutating q. For
// debug inspection only; production code never needs to walk a queue.
func (q *Queue) Entries() []*PCB {
	if q.tail == nil {
		return nil
	}
	out := make([]*PCB, 0, q.n)
	head := q.tail.next
	for cur := head; ; cur = cur.next {
		out = append(out, cur)
		if cur == q.tail {
			break
		}
	}
	return out
}

// Head returns the first PCB in q, or nil if q is empty.
func (q *Queue) Head() *PCB {
	if q.tail == nil {
		return nil
	}
	return q.tail.next
}

// Insert appends p at the tail of q.
func (q *Queue) Insert(p *PCB) {
	if q.tail == nil {
		p.next, p.prev = p, p
	} else {
		head := q.tail.next
		p.next = head
		p.prev = q.tail
		q.tail.next = p
		head.prev = p
	}
	q.tail = p
	q.n++
}

// RemoveHead pops and returns the head of q, or nil if q is empty. The
// returned PCB's queue links are cleared.
func (q *Queue) RemoveHead() *PCB {
	if q.tail == nil {
		return nil
	}
	head := q.tail.next
	if head == q.tail {
		q.tail = nil
	} else {
		q.tail.next = head.next
		head.next.prev = q.tail
	}
	head.next, head.prev = nil, nil
	q.n--
	return head
}

// RemoveAny removes p from q wherever it is via a linear scan, and returns
// p, or nil if p is not a member of q.
func (q *Queue) RemoveAny(p *PCB) *PCB {
	if q.tail == nil {
		return nil
	}
	head := q.tail.next
	cur := head
	for {
		if cur == p {
			if cur.next == cur {
				q.tail = nil
			} else {
				cur.prev.next = cur.next
				cur.next.prev = cur.prev
				if q.tail == cur {
					q.tail = cur.prev
				}
			}
			cur.next, cur.prev = nil, nil
			q.n--
			return cur
		}
		cur = cur.next
		if cur == head {
			return nil
		}
	}
}

// InsertChild makes p the new first child of parent.
func InsertChild(parent, p *PCB) {
	p.parent = parent
	p.prevSibling = parent.firstChild
	p.nextSibling = nil
	if parent.firstChild != nil {
		parent.firstChild.nextSibling = p
	}
	parent.firstChild = p
}

// RemoveFirstChild detaches and returns parent's first child, or nil if
// parent has no children.
func RemoveFirstChild(parent *PCB) *PCB {
	c := parent.firstChild
	if c == nil {
		return nil
	}
	parent.firstChild = c.prevSibling
	if c.prevSibling != nil {
		c.prevSibling.nextSibling = nil
	}
	c.parent, c.prevSibling, c.nextSibling = nil, nil, nil
	return c
}

// RemoveFromSiblings detaches p from its parent's child chain, wherever it
// is, and returns p. Returns nil if p has no parent.
func RemoveFromSiblings(p *PCB) *PCB {
	parent := p.parent
	if parent == nil {
		return nil
	}
	if parent.firstChild == p {
		parent.firstChild = p.prevSibling
		if p.prevSibling != nil {
			p.prevSibling.nextSibling = nil
		}
	} else {
		if p.prevSibling != nil {
			p.prevSibling.nextSibling = p.nextSibling
		}
		if p.nextSibling != nil {
			p.nextSibling.prevSibling = p.prevSibling
		}
	}
	p.parent, p.prevSibling, p.nextSibling = nil, nil, nil
	return p
}
