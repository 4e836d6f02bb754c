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

package iommu_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/wilinz/iommudmacache/pkg/iommu"
	"github.com/wilinz/iommudmacache/pkg/iommu/iommutest"
)

const pageShift = 12 // 4096-byte pages, as in spec.md §8.

// newTestTable returns a DeviceTable whose max_cache_size is exactly 10
// pages, for readability, matching spec.md §8's end-to-end scenarios.
func newTestTable(t *testing.T) (*iommu.DeviceTable, *iommutest.FakeAllocator) {
	t.Helper()
	fake := iommutest.NewFakeAllocator()
	tbl := &iommu.DeviceTable{
		PageShift:  pageShift,
		TotalPages: 14, // 14*75/100 == 10
		Allocator:  fake.Allocator(),
	}
	if err := tbl.Init(); err != nil {
		t.Fatalf("Init() = %v, want nil", err)
	}
	return tbl, fake
}

func TestAddThenUseWholeRange(t *testing.T) {
	tbl, _ := newTestTable(t)
	if _, err := tbl.Add(0x1000, 4, 0xD000, iommu.DirectionToDevice); err != nil {
		t.Fatalf("Add() = %v, want nil", err)
	}
	dma, err := tbl.Use(0x1000, 4, iommu.DirectionToDevice)
	if err != nil {
		t.Fatalf("Use() = %v, want nil", err)
	}
	if dma != 0xD000 {
		t.Errorf("Use() = %#x, want %#x", dma, 0xD000)
	}
}

func TestUsePrefixAndTailOfSameRange(t *testing.T) {
	tbl, _ := newTestTable(t)
	if _, err := tbl.Add(0x1000, 4, 0xD000, iommu.DirectionToDevice); err != nil {
		t.Fatalf("Add() = %v, want nil", err)
	}
	if dma, err := tbl.Use(0x1000, 2, iommu.DirectionToDevice); err != nil || dma != 0xD000 {
		t.Errorf("Use(prefix) = (%#x, %v), want (%#x, nil)", dma, err, 0xD000)
	}
	if dma, err := tbl.Use(0x2000, 3, iommu.DirectionToDevice); err != nil || dma != 0xE000 {
		t.Errorf("Use(tail) = (%#x, %v), want (%#x, nil)", dma, err, 0xE000)
	}
}

func TestDirectionIncompatible(t *testing.T) {
	tbl, _ := newTestTable(t)
	if _, err := tbl.Add(0x1000, 4, 0xD000, iommu.DirectionFromDevice); err != nil {
		t.Fatalf("Add() = %v, want nil", err)
	}
	if _, err := tbl.Use(0x1000, 4, iommu.DirectionToDevice); !errors.Is(err, iommu.ErrNotFound) {
		t.Errorf("Use(incompatible direction) err = %v, want ErrNotFound", err)
	}
	if dma, err := tbl.Use(0x1000, 4, iommu.DirectionFromDevice); err != nil || dma != 0xD000 {
		t.Errorf("Use(matching direction) = (%#x, %v), want (%#x, nil)", dma, err, 0xD000)
	}
}

func TestEvictionUnderPressure(t *testing.T) {
	tbl, fake := newTestTable(t)
	const installed = 12 // exceeds max_cache_size == 10.
	for i := uint64(0); i < installed; i++ {
		hostAddr := (0x10000 + i*0x1000)
		dmaAddr := (0x80000 + i*0x1000)
		if _, err := tbl.Add(hostAddr, 1, dmaAddr, iommu.DirectionBidirectional); err != nil {
			t.Fatalf("Add(#%d) = %v, want nil", i, err)
		}
	}
	for i := uint64(0); i < installed; i++ {
		dmaAddr := (0x80000 + i*0x1000)
		tbl.Free(dmaAddr, 1)
	}

	unmapped := fake.UnmappedPageCount()
	if unmapped == 0 {
		t.Fatalf("expected eviction to unmap at least one page, got 0")
	}
	if unmapped > installed {
		t.Fatalf("unmapped %d pages, more than the %d installed", unmapped, installed)
	}
}

func TestFreeNeverAddedUnmapsDirectlyOnce(t *testing.T) {
	tbl, fake := newTestTable(t)
	if _, err := tbl.Add(0x1000, 1, 0xD000, iommu.DirectionBidirectional); err != nil {
		t.Fatalf("Add() = %v, want nil", err)
	}
	tbl.Free(0x5000>>pageShift<<pageShift, 1) // a dma page that was never added.

	pages := fake.UnmappedPages()
	if n := pages[0x5000>>pageShift]; n != 1 {
		t.Errorf("unmap count for never-added page = %d, want 1", n)
	}
}

func TestZeroPagesIsNoOp(t *testing.T) {
	tbl, fake := newTestTable(t)
	if installed, err := tbl.Add(0x1000, 0, 0xD000, iommu.DirectionBidirectional); installed != 0 || err != nil {
		t.Errorf("Add(npages=0) = (%d, %v), want (0, nil)", installed, err)
	}
	if _, err := tbl.Use(0x1000, 0, iommu.DirectionBidirectional); !errors.Is(err, iommu.ErrNotFound) {
		t.Errorf("Use(npages=0) err = %v, want ErrNotFound", err)
	}
	tbl.Free(0xD000, 0)
	if len(fake.Calls()) != 0 {
		t.Errorf("Free(npages=0) issued %d unmap calls, want 0", len(fake.Calls()))
	}
}

func TestPartialTailRejectedWithoutLeakingPrefixReference(t *testing.T) {
	tbl, fake := newTestTable(t)
	// Install only the first of a 4-page range, so the tail is absent.
	if _, err := tbl.Add(0x1000, 1, 0xD000, iommu.DirectionBidirectional); err != nil {
		t.Fatalf("Add() = %v, want nil", err)
	}
	if _, err := tbl.Use(0x1000, 4, iommu.DirectionBidirectional); !errors.Is(err, iommu.ErrNotFound) {
		t.Fatalf("Use(partial range) err = %v, want ErrNotFound", err)
	}
	// A single-page Use of the first page must still succeed afterward.
	if dma, err := tbl.Use(0x1000, 1, iommu.DirectionBidirectional); err != nil || dma != 0xD000 {
		t.Errorf("Use(single page after rejected range) = (%#x, %v), want (%#x, nil)", dma, err, 0xD000)
	}
	// The first page's reference must not have leaked: once the Add-time
	// and single-page Use references are dropped the entry is idle, so an
	// eviction pass reclaims it. A leaked reference would keep it in use.
	tbl.Free(0xD000, 1)
	tbl.Free(0xD000, 1)
	for i := uint64(0); i < 12; i++ {
		dmaAddr := 0xC0000 + i*0x1000
		if _, err := tbl.Add(0x50000+i*0x1000, 1, dmaAddr, iommu.DirectionBidirectional); err != nil {
			t.Fatalf("Add(#%d) = %v, want nil", i, err)
		}
		tbl.Free(dmaAddr, 1)
	}
	if pages := fake.UnmappedPages(); pages[0xD000>>pageShift] != 1 {
		t.Fatalf("first page unmapped %d times after eviction, want 1 (leaked reference?)", pages[0xD000>>pageShift])
	}
}

func TestCacheAtBudgetDoesNotEvictButOneOverDoes(t *testing.T) {
	tbl, fake := newTestTable(t)
	// Install exactly max_cache_size (10) pages, freeing each as we go so
	// Free's eviction check runs after every insert.
	for i := uint64(0); i < 10; i++ {
		hostAddr := 0x20000 + i*0x1000
		dmaAddr := 0x90000 + i*0x1000
		if _, err := tbl.Add(hostAddr, 1, dmaAddr, iommu.DirectionBidirectional); err != nil {
			t.Fatalf("Add(#%d) = %v, want nil", i, err)
		}
		tbl.Free(dmaAddr, 1)
	}
	if got := len(fake.Calls()); got != 0 {
		t.Fatalf("at exactly max_cache_size, got %d unmap calls, want 0", got)
	}

	// One more page pushes cache_size to 11 > 10: this Free must evict.
	if _, err := tbl.Add(0x30000, 1, 0xA0000, iommu.DirectionBidirectional); err != nil {
		t.Fatalf("Add(extra) = %v, want nil", err)
	}
	tbl.Free(0xA0000, 1)
	if got := len(fake.Calls()); got == 0 {
		t.Fatalf("at max_cache_size+1, got 0 unmap calls, want at least 1")
	}
}

func TestConcurrentUseSurvivesEvictionUntilBothReleased(t *testing.T) {
	tbl, fake := newTestTable(t)
	if _, err := tbl.Add(0x1000, 1, 0xD000, iommu.DirectionBidirectional); err != nil {
		t.Fatalf("Add() = %v, want nil", err)
	}
	// Drop the Add-time reference so only the two uses below hold the
	// entry.
	tbl.Free(0xD000, 1)

	var wg sync.WaitGroup
	results := make([]uint64, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tbl.Use(0x1000, 1, iommu.DirectionBidirectional)
		}(i)
	}
	wg.Wait()

	for i := range 2 {
		if errs[i] != nil || results[i] != 0xD000 {
			t.Fatalf("Use() #%d = (%#x, %v), want (%#x, nil)", i, results[i], errs[i], 0xD000)
		}
	}

	// Installing enough extra pages to push the cache over budget and
	// trigger an eviction pass must not reclaim the still-referenced
	// entry: both uses are still outstanding.
	for i := uint64(0); i < 12; i++ {
		hostAddr := 0x40000 + i*0x1000
		dmaAddr := 0xB0000 + i*0x1000
		if _, err := tbl.Add(hostAddr, 1, dmaAddr, iommu.DirectionBidirectional); err != nil {
			t.Fatalf("Add(#%d) = %v, want nil", i, err)
		}
		tbl.Free(dmaAddr, 1)
	}
	if pages := fake.UnmappedPages(); pages[0xD000>>pageShift] != 0 {
		t.Fatalf("entry with two outstanding uses was unmapped early")
	}

	// Dropping both uses' references allows the next eviction to reclaim
	// it.
	tbl.Free(0xD000, 1)
	tbl.Free(0xD000, 1)
	for i := uint64(0); i < 12; i++ {
		dmaAddr := 0xC0000 + i*0x1000
		if _, err := tbl.Add(0x50000+i*0x1000, 1, dmaAddr, iommu.DirectionBidirectional); err != nil {
			t.Fatalf("Add(#%d) = %v, want nil", i, err)
		}
		tbl.Free(dmaAddr, 1)
	}
	if pages := fake.UnmappedPages(); pages[0xD000>>pageShift] == 0 {
		t.Fatalf("entry was never reclaimed after both uses released")
	}
}

func TestDestroyEmptiesCacheAndUnmapsEveryPageOnce(t *testing.T) {
	tbl, fake := newTestTable(t)
	const n = 5
	for i := uint64(0); i < n; i++ {
		if _, err := tbl.Add(0x1000+i*0x1000, 1, 0xD000+i*0x1000, iommu.DirectionBidirectional); err != nil {
			t.Fatalf("Add(#%d) = %v, want nil", i, err)
		}
	}
	for i := uint64(0); i < n; i++ {
		tbl.Free(0xD000+i*0x1000, 1)
	}
	if err := tbl.Destroy(); err != nil {
		t.Fatalf("Destroy() = %v, want nil", err)
	}

	pages := fake.UnmappedPages()
	for i := uint64(0); i < n; i++ {
		p := (0xD000 + i*0x1000) >> pageShift
		if pages[p] != 1 {
			t.Errorf("page %#x unmapped %d times, want exactly 1", p, pages[p])
		}
	}
}

func TestDisabledCacheRejectsAddUseForwardsFree(t *testing.T) {
	fake := iommutest.NewFakeAllocator()
	tbl := &iommu.DeviceTable{
		PageShift:  pageShift,
		TotalPages: 0, // runtime sentinel: max_cache_size == 0 disables the cache.
		Allocator:  fake.Allocator(),
	}
	if err := tbl.Init(); err != nil {
		t.Fatalf("Init() = %v, want nil", err)
	}
	if installed, err := tbl.Add(0x1000, 1, 0xD000, iommu.DirectionBidirectional); installed != 0 || !errors.Is(err, iommu.ErrDisabled) {
		t.Errorf("Add() on disabled cache = (%d, %v), want (0, ErrDisabled)", installed, err)
	}
	if _, err := tbl.Use(0x1000, 1, iommu.DirectionBidirectional); !errors.Is(err, iommu.ErrDisabled) {
		t.Errorf("Use() on disabled cache err = %v, want ErrDisabled", err)
	}
	tbl.Free(0xD000, 1)
	if n := fake.UnmappedPageCount(); n != 1 {
		t.Errorf("Free() on disabled cache unmapped %d pages, want 1", n)
	}
}
