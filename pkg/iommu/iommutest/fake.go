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

// Package iommutest provides a fake IOMMU allocator for exercising
// pkg/iommu in tests and the cmd/iommucachectl demo, grounded on the
// donor's own contexttest-style per-package test helper packages
// (pkg/sentry/fsimpl/testutil).
package iommutest

import (
	"sync"

	"github.com/wilinz/iommudmacache/pkg/iommu"
)

// FakeAllocator is an in-memory stand-in for the external IOMMU
// allocator. It never actually allocates or frees device-visible
// addresses; it only records every Unmap call, which pkg/iommu never
// performs more than once per dma page (§5's at-most-one-unmap
// guarantee), so tests can assert on exactly that.
type FakeAllocator struct {
	mu    sync.Mutex
	calls []iommu.UnmapRun
}

// NewFakeAllocator returns a FakeAllocator wired as an iommu.PageAllocator.
func NewFakeAllocator() *FakeAllocator {
	return &FakeAllocator{}
}

// Allocator returns the iommu.PageAllocator this fake backs.
func (f *FakeAllocator) Allocator() iommu.PageAllocator {
	return iommu.PageAllocator{Unmap: f.unmap}
}

func (f *FakeAllocator) unmap(run iommu.UnmapRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, run)
}

// Calls returns a copy of every Unmap call observed so far, in order.
func (f *FakeAllocator) Calls() []iommu.UnmapRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]iommu.UnmapRun, len(f.calls))
	copy(out, f.calls)
	return out
}

// UnmappedPageCount returns how many dma pages have been unmapped in
// total, summed across all coalesced runs; a page unmapped twice counts
// twice.
func (f *FakeAllocator) UnmappedPageCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total uint64
	for _, c := range f.calls {
		total += c.Length
	}
	return total
}

// UnmappedPages returns, for every dma page number unmapped so far, how
// many times it was unmapped, expanded out of the coalesced runs, for
// exact-count assertions.
func (f *FakeAllocator) UnmappedPages() map[uint64]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]int)
	for _, c := range f.calls {
		for p := c.Base; p < c.Base+c.Length; p++ {
			out[p]++
		}
	}
	return out
}
