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

// tryAcquire implements fetch_add_unless(count, +1, floor=-removingBias):
// it increments e.count unless the entry has already been claimed by the
// evictor, in which case it leaves count untouched and reports failure.
func tryAcquire(e *Entry) bool {
	for {
		cur := e.count.Load()
		if cur <= -removingBias {
			return false
		}
		if e.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// release undoes a successful tryAcquire (or the initial count=1 set by
// Add), decrementing the reference count by one.
func release(e *Entry) {
	e.count.Add(-1)
}

// claimOutcome describes what try_claim observed.
type claimOutcome int

const (
	// claimed means the evictor now has exclusive ownership of e and
	// must remove it from both indices and free it.
	claimed claimOutcome = iota
	// claimInUse means e had live holders (count > 0); the evictor must
	// back off and re-queue e.
	claimInUse
	// claimRaced means e had already been claimed by a concurrent
	// evictor (count <= -removingBias); this evictor must back off
	// without re-queuing, since the other claimer owns e's teardown.
	claimRaced
)

// tryClaim implements count.fetch_sub(removingBias), succeeding iff the
// observed prior value was exactly 0. On any other outcome it undoes the
// subtraction so the entry's apparent state is unchanged to everyone else.
func tryClaim(e *Entry) claimOutcome {
	newVal := e.count.Add(-removingBias)
	prev := newVal + removingBias
	switch {
	case prev == 0:
		return claimed
	case prev > 0:
		e.count.Add(removingBias)
		return claimInUse
	default:
		e.count.Add(removingBias)
		return claimRaced
	}
}
