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

import (
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// DeviceTable is the device-descriptor structure that stores the cache,
// grounded on the donor's per-device-fd structs (accelDevice, uvmFD) that
// bundle device configuration with per-device state. §6's five public
// operations are methods on *DeviceTable.
type DeviceTable struct {
	// PageShift is log2 of the page size; host and dma addresses are
	// divided into page numbers by this shift.
	PageShift uint
	// TotalPages is the device's total IOMMU page count, used at Init
	// time to compute max_cache_size = MaxPercent% * TotalPages.
	TotalPages uint64
	// MaxPercent is MAX_PERCENT from §3: the percentage of TotalPages the
	// cache may hold. Zero falls back to defaultMaxPercent (75).
	MaxPercent uint64
	// EvictThreshold is THRESHOLD from §4.7: extra headroom requested on
	// every eviction pass beyond the strict excess. Zero falls back to
	// defaultEvictThreshold (128).
	EvictThreshold uint64
	// Allocator is the external IOMMU allocator collaborator. Required.
	Allocator PageAllocator
	// Compatible decides direction compatibility for Use. If nil,
	// DefaultCompatible is used.
	Compatible CompatibleFunc

	cache *Cache
}

// Init installs the cache on tbl, per §6's init(tbl) operation. When the
// cache is compiled out (the iommucache_disabled build tag), Init leaves
// tbl in the disabled state and Add/Use/Free fall back to their
// build-time-disabled behavior described in §6.
func (tbl *DeviceTable) Init() error {
	if !cacheBuildEnabled {
		tbl.cache = nil
		return nil
	}
	tbl.cache = NewCache(tbl.TotalPages, tbl.MaxPercent, tbl.EvictThreshold, tbl.Allocator, tbl.Compatible)
	return nil
}

// Destroy drains the FIFO through the evictor and tears down the
// indices, per §6's destroy(tbl). The caller must ensure no other
// DeviceTable operation is in flight (§5: Destroy is the cache's only
// quiescence mechanism).
func (tbl *DeviceTable) Destroy() error {
	if tbl.cache == nil {
		return nil
	}
	tbl.cache.Drain()
	var errs *multierror.Error
	if remaining := tbl.cache.Size(); remaining != 0 {
		errs = multierror.Append(errs, ErrDrainIncomplete)
	}
	tbl.cache = nil
	return errs.ErrorOrNil()
}

// Add publishes up to npages entries, per §6's add(tbl, ...). When the
// cache is disabled (build-time or max_cache_size == 0), Add publishes
// nothing and returns ErrDisabled, per §6.
func (tbl *DeviceTable) Add(hostAddr, npages, dmaAddr uint64, dir Direction) (installed uint64, err error) {
	if npages == 0 {
		return 0, nil
	}
	if tbl.cache == nil || tbl.cache.MaxSize() == 0 {
		return 0, ErrDisabled
	}
	tbl.warnIfMisaligned("add", "host_addr", hostAddr)
	tbl.warnIfMisaligned("add", "dma_addr", dmaAddr)
	hostPage := pageNumber(hostAddr, tbl.PageShift)
	dmaPage := pageNumber(dmaAddr, tbl.PageShift)
	return tbl.cache.Add(hostPage, dmaPage, npages, dir)
}

// Use resolves a host address range to its cached dma address, per §6's
// use(tbl, ...). It returns ErrNotFound (rather than a bool) so callers
// can distinguish "no mapping" from any future richer failure without an
// API break; per §7, ErrNotFound is never logged as an error, it is the
// expected "install a fresh mapping" signal. When the cache is disabled
// (build-time or max_cache_size == 0), Use returns ErrDisabled instead,
// so callers can tell "never going to be cached" from "not cached yet".
func (tbl *DeviceTable) Use(hostAddr, npages uint64, dir Direction) (dmaAddr uint64, err error) {
	if npages == 0 {
		return 0, ErrNotFound
	}
	if tbl.cache == nil || tbl.cache.MaxSize() == 0 {
		return 0, ErrDisabled
	}
	tbl.warnIfMisaligned("use", "host_addr", hostAddr)
	hostPage := pageNumber(hostAddr, tbl.PageShift)
	dmaPage, ok := tbl.cache.Use(hostPage, npages, dir)
	if !ok {
		return 0, ErrNotFound
	}
	return pageOffset(dmaPage, tbl.PageShift), nil
}

// Free decrements reference counts and, if the cache has grown past
// budget, evicts, per §6's free(tbl, ...). When the cache is disabled,
// Free forwards the whole range directly to the external allocator.
func (tbl *DeviceTable) Free(dmaAddr, npages uint64) {
	if npages == 0 {
		return
	}
	tbl.warnIfMisaligned("free", "dma_addr", dmaAddr)
	dmaPage := pageNumber(dmaAddr, tbl.PageShift)
	if tbl.cache == nil || tbl.cache.MaxSize() == 0 {
		tbl.Allocator.Unmap(UnmapRun{Base: dmaPage, Length: npages})
		return
	}
	tbl.cache.Free(dmaPage, npages)
}

// warnIfMisaligned logs a non-fatal diagnostic if addr does not fall on
// a PageShift-sized boundary, per §7's error policy: malformed input is
// never fatal, but silently truncating it to its containing page is
// worth a diagnostic since it usually indicates a caller bug.
func (tbl *DeviceTable) warnIfMisaligned(op, label string, addr uint64) {
	if pageAligned(addr, tbl.PageShift) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"op":    op,
		label:   addr,
		"shift": tbl.PageShift,
	}).Warn("iommu: address is not page-aligned, truncating to its containing page")
}

// Size reports the underlying cache's current cache_size, or 0 if the
// cache is disabled (build-time or runtime).
func (tbl *DeviceTable) Size() uint64 {
	if tbl.cache == nil {
		return 0
	}
	return tbl.cache.Size()
}
