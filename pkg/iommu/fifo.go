// Copyright 2023 The gVisor Authors.
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

package iommu

import "sync/atomic"

// fifoHalf is one half of the two-list lock-free eviction FIFO (§4.5): a
// lock-free singly-linked stack with a permanently pinned sentinel at its
// base so the half is never truly empty.
//
// §9 flags the donor's single shared sentinel (present in both halves
// through one fifoNext field) as an unresolved ambiguity and recommends,
// as the redesign, giving each half its own sentinel. This implementation
// takes that redesign: addHalf and delHalf each own a distinct sentinel,
// so no half ever needs to special-case walking through a shared node.
type fifoHalf struct {
	head     atomic.Pointer[Entry]
	sentinel *Entry
}

func newFifoHalf() *fifoHalf {
	s := newSentinel()
	h := &fifoHalf{sentinel: s}
	h.head.Store(s)
	return h
}

// push prepends e onto the half. Always used for insertion (add_half) and
// for re-queuing an entry the evictor backed off from claiming.
func (h *fifoHalf) push(e *Entry) {
	for {
		old := h.head.Load()
		e.fifoNext.Store(old)
		if h.head.CompareAndSwap(old, e) {
			return
		}
	}
}

// detach atomically takes ownership of everything above the half's
// sentinel, resetting the half to just the sentinel, and returns the
// detached chain's head. It returns nil if the half held nothing but the
// sentinel (i.e. was logically empty).
func (h *fifoHalf) detach() *Entry {
	old := h.head.Swap(h.sentinel)
	if old == h.sentinel {
		return nil
	}
	return old
}

// reattach prepends an already-linked chain (head..tail, in that order)
// onto the half in one step, used to return an unwalked eviction-batch
// tail back onto del_half, and to publish a spliced add_half batch onto
// it, when the half may have changed since it was last observed.
func (h *fifoHalf) reattach(head, tail *Entry) {
	for {
		old := h.head.Load()
		tail.fifoNext.Store(old)
		if h.head.CompareAndSwap(old, head) {
			return
		}
	}
}

// detachForEviction returns the current del_half batch, splicing add_half
// into del_half first if del_half was empty (the FIFO-order-reversing
// splice of §4.5). It returns nil only if both halves held nothing but
// their sentinels.
func detachForEviction(addHalf, delHalf *fifoHalf) *Entry {
	if batch := delHalf.detach(); batch != nil {
		return batch
	}

	addBatch := addHalf.detach()
	if addBatch == nil {
		return nil
	}

	// The detached chain ends at add_half's own sentinel, which stays
	// behind in add_half and is not part of the batch.
	tail := chainTail(addBatch, addHalf.sentinel)

	// Push the spliced batch onto del_half rather than assuming it is
	// still empty: if a concurrent evictor reattached an unwalked tail
	// there since we looked, the batch lands on top of it instead of
	// replacing it, and the whole of del_half is detached — per §5,
	// concurrent evictors duplicate work, never corrupt state.
	delHalf.reattach(addBatch, tail)
	return delHalf.detach()
}
