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

// republishChainHead installs newHead as the chain at hostPage in the
// host-page index, merging with any chain a concurrent Add published in
// the gap since we last erased this slot (the "atomic-replace protocol
// for chain head" of §4.6).
//
// Each retry strictly reduces the number of un-merged chains: either we
// install newHead with nothing to merge (0 remaining iterations), or we
// absorb exactly one interloper chain into newHead's tail per iteration.
func republishChainHead(idx *pageIndex[*Entry], hostPage uint64, newHead *Entry) {
	for {
		if _, loaded := idx.m.LoadOrStore(hostPage, newHead); !loaded {
			return
		}
		interloper, ok := idx.m.LoadAndDelete(hostPage)
		if !ok {
			// The slot emptied between our peek and our reclaim attempt;
			// loop and try installing newHead fresh.
			continue
		}
		tail := newHead
		for next := tail.chainNext.Load(); next != nil; next = tail.chainNext.Load() {
			tail = next
		}
		tail.chainNext.Store(interloper)
	}
}

// removeFromChain splices e out of the host-page chain it belongs to and
// republishes whatever remains, following the predecessor-walk design
// note in §9: an explicit predecessor, nil until proven otherwise, rather
// than assuming e is always the head.
func removeFromChain(idx *pageIndex[*Entry], e *Entry) (found bool) {
	head, ok := idx.eraseExpect(e.hostPage)
	if !ok {
		// Lookup miss on removal: diagnostic only, per §7 error policy;
		// there is nothing left to splice.
		return false
	}
	if head == e {
		if succ := e.chainNext.Load(); succ != nil {
			republishChainHead(idx, e.hostPage, succ)
		}
		return true
	}

	var pred *Entry
	cur := head
	for cur != nil {
		if cur == e {
			if pred == nil {
				// Unreachable given head != e above, but guards against
				// the exact predecessor-initialization bug the source
				// carries TODOs about (§9): never splice using an
				// uninitialized predecessor.
				republishChainHead(idx, e.hostPage, head)
				return true
			}
			pred.chainNext.Store(cur.chainNext.Load())
			republishChainHead(idx, e.hostPage, head)
			return true
		}
		pred = cur
		cur = cur.chainNext.Load()
	}

	// e was not found in its own chain: diagnostic only; still republish
	// the chain we erased so it isn't lost.
	republishChainHead(idx, e.hostPage, head)
	return false
}
