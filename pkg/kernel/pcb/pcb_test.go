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

package pcb

import "testing"

func TestPoolAllocExhaustion(t *testing.T) {
	p := NewPool()
	got := make([]*PCB, 0, MaxProc)
	for i := 0; i < MaxProc; i++ {
		pc := p.Alloc()
		if pc == nil {
			t.Fatalf("pool exhausted early at %d", i)
		}
		got = append(got, pc)
	}
	if pc := p.Alloc(); pc != nil {
		t.Fatalf("Alloc succeeded past MaxProc")
	}
	if n := p.InUse(); n != MaxProc {
		t.Fatalf("InUse() = %d, want %d", n, MaxProc)
	}

	p.Free(got[0])
	if n := p.InUse(); n != MaxProc-1 {
		t.Fatalf("InUse() after Free = %d, want %d", n, MaxProc-1)
	}
	if pc := p.Alloc(); pc == nil {
		t.Fatalf("Alloc failed after a Free")
	}
}

func TestAllocZeroesState(t *testing.T) {
	p := NewPool()
	pc := p.Alloc()
	pc.CPUTime = 42
	pc.SemAddr = 7
	p.Free(pc)

	pc2 := p.Alloc()
	if pc2.CPUTime != 0 || pc2.SemAddr != 0 {
		t.Fatalf("Alloc returned a non-zeroed PCB: %+v", pc2)
	}
}

func TestQueueFIFO(t *testing.T) {
	p := NewPool()
	a, b, c := p.Alloc(), p.Alloc(), p.Alloc()

	var q Queue
	if !q.Empty() {
		t.Fatalf("zero Queue is not empty")
	}
	q.Insert(a)
	q.Insert(b)
	q.Insert(c)

	for _, want := range []*PCB{a, b, c} {
		if got := q.RemoveHead(); got != want {
			t.Fatalf("RemoveHead() = %p, want %p", got, want)
		}
	}
	if !q.Empty() {
		t.Fatalf("Queue non-empty after draining")
	}
	if q.RemoveHead() != nil {
		t.Fatalf("RemoveHead() on empty queue returned non-nil")
	}
}

func TestQueueRemoveAnyFromMiddle(t *testing.T) {
	p := NewPool()
	a, b, c := p.Alloc(), p.Alloc(), p.Alloc()

	var q Queue
	q.Insert(a)
	q.Insert(b)
	q.Insert(c)

	if got := q.RemoveAny(b); got != b {
		t.Fatalf("RemoveAny(b) = %p, want %p", got, b)
	}
	if got := q.RemoveAny(b); got != nil {
		t.Fatalf("RemoveAny(b) twice = %p, want nil", got)
	}

	// a and c remain, in order.
	if got := q.RemoveHead(); got != a {
		t.Fatalf("RemoveHead() = %p, want a", got)
	}
	if got := q.RemoveHead(); got != c {
		t.Fatalf("RemoveHead() = %p, want c", got)
	}
}

func TestQueueRemoveAnyTailUpdatesTail(t *testing.T) {
	p := NewPool()
	a, b := p.Alloc(), p.Alloc()

	var q Queue
	q.Insert(a)
	q.Insert(b)

	// b is the tail; removing it must leave a reachable as both head
	// and tail of a correctly closed one-element ring.
	if got := q.RemoveAny(b); got != b {
		t.Fatalf("RemoveAny(b) = %p, want b", got)
	}
	q.Insert(b) // re-insert to exercise the splice into a one-element queue
	if got := q.Head(); got != a {
		t.Fatalf("Head() = %p, want a", got)
	}
}

func TestTreeMostRecentChildFirst(t *testing.T) {
	p := NewPool()
	root, c1, c2 := p.Alloc(), p.Alloc(), p.Alloc()

	InsertChild(root, c1)
	InsertChild(root, c2)

	if root.FirstChild() != c2 {
		t.Fatalf("FirstChild() = %p, want most recently inserted c2", root.FirstChild())
	}
	if c2.PrevSibling() != c1 {
		t.Fatalf("c2.PrevSibling() = %p, want c1", c2.PrevSibling())
	}
	if c1.NextSibling() != c2 {
		t.Fatalf("c1.NextSibling() = %p, want c2", c1.NextSibling())
	}
	if c1.Parent() != root || c2.Parent() != root {
		t.Fatalf("child Parent() not root")
	}
}

func TestRemoveFromSiblingsMiddle(t *testing.T) {
	p := NewPool()
	root, c1, c2, c3 := p.Alloc(), p.Alloc(), p.Alloc(), p.Alloc()

	InsertChild(root, c1)
	InsertChild(root, c2)
	InsertChild(root, c3) // root.firstChild == c3, chain: c1 <- c2 <- c3

	if got := RemoveFromSiblings(c2); got != c2 {
		t.Fatalf("RemoveFromSiblings(c2) = %p, want c2", got)
	}
	if c1.NextSibling() != c3 {
		t.Fatalf("c1.NextSibling() = %p, want c3 after removing c2", c1.NextSibling())
	}
	if c3.PrevSibling() != c1 {
		t.Fatalf("c3.PrevSibling() = %p, want c1 after removing c2", c3.PrevSibling())
	}
	if c2.Parent() != nil {
		t.Fatalf("removed child still has a parent")
	}
}

func TestRemoveFirstChildDrainsOldestLast(t *testing.T) {
	p := NewPool()
	root, c1, c2 := p.Alloc(), p.Alloc(), p.Alloc()
	InsertChild(root, c1)
	InsertChild(root, c2)

	if got := RemoveFirstChild(root); got != c2 {
		t.Fatalf("RemoveFirstChild() = %p, want c2", got)
	}
	if got := RemoveFirstChild(root); got != c1 {
		t.Fatalf("RemoveFirstChild() = %p, want c1", got)
	}
	if got := RemoveFirstChild(root); got != nil {
		t.Fatalf("RemoveFirstChild() on childless root = %p, want nil", got)
	}
}
