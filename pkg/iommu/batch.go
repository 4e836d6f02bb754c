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

// unmapBatch coalesces DMA pages appended one at a time into contiguous
// runs, so the evictor and Free's direct-unmap path can call the external
// unmap primitive once per run instead of once per page (§4.5, §4.7).
type unmapBatch struct {
	runs []UnmapRun
}

func newUnmapBatch(capacityHint int) *unmapBatch {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &unmapBatch{runs: make([]UnmapRun, 0, capacityHint)}
}

// append adds page to the batch, extending the most recently appended run
// if it is contiguous. The common case — an ascending or already-grouped
// stream of pages — is almost always a match against the very last run,
// so only that run is checked before a new one is started.
func (b *unmapBatch) append(page uint64) {
	if n := len(b.runs); n > 0 {
		last := &b.runs[n-1]
		if last.Base+last.Length == page {
			last.Length++
			return
		}
	}
	b.runs = append(b.runs, UnmapRun{Base: page, Length: 1})
}

// totalPages returns the sum of all run lengths.
func (b *unmapBatch) totalPages() uint64 {
	var total uint64
	for _, r := range b.runs {
		total += r.Length
	}
	return total
}

// flush invokes unmap for every coalesced run and clears the batch.
func (b *unmapBatch) flush(unmap func(UnmapRun)) {
	for _, r := range b.runs {
		unmap(r)
	}
	b.runs = b.runs[:0]
}
