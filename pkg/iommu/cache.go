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

// Package iommu implements the core of an IOMMU DMA-mapping page cache:
// a concurrent, FIFO-evicted cache of host-page-to-dma-page mappings,
// keyed for lookup by both host page and dma page. See DeviceTable for
// the public per-device entry point; Cache is the data structure it
// wraps.
package iommu

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// defaultMaxPercent is MAX_PERCENT from §3: the cache budget is this
// fraction of the device's total IOMMU pages, used whenever a caller
// does not configure its own (e.g. via Config.MaxPercent).
const defaultMaxPercent = 75

// defaultEvictThreshold is THRESHOLD from §4.7: Free always requests
// slightly more eviction than the strict excess, so the cache drains a
// bit below its high-water mark instead of evicting on every subsequent
// Free. Used whenever a caller does not configure its own (e.g. via
// Config.Threshold).
const defaultEvictThreshold = 128

// Cache is the concurrent DMA-mapping page cache described by §2-§5. All
// of its public methods are safe to call concurrently from any
// goroutine, including ones that must not block; none of them take a
// lock.
type Cache struct {
	hostIndex *pageIndex[*Entry]
	dmaIndex  *pageIndex[*Entry]

	addHalf *fifoHalf
	delHalf *fifoHalf

	cacheSize      atomic.Int64
	maxCacheSize   uint64
	evictThreshold uint64

	allocator  PageAllocator
	compatible CompatibleFunc
}

// NewCache constructs a Cache budgeted to maxPercent% of totalPages,
// requesting evictThreshold extra pages of headroom on every eviction
// pass (§4.7's THRESHOLD), installing the per-half sentinels (§4.5) and
// emptying both indices — the work spec.md's init(tbl) performs once a
// DeviceTable exists. compatible may be nil, in which case
// DefaultCompatible is used. maxPercent and evictThreshold of 0 fall
// back to defaultMaxPercent and defaultEvictThreshold respectively, so
// the zero value of Config still yields the spec's defaults.
func NewCache(totalPages, maxPercent, evictThreshold uint64, allocator PageAllocator, compatible CompatibleFunc) *Cache {
	if compatible == nil {
		compatible = DefaultCompatible
	}
	if maxPercent == 0 {
		maxPercent = defaultMaxPercent
	}
	if evictThreshold == 0 {
		evictThreshold = defaultEvictThreshold
	}
	return &Cache{
		hostIndex:      newPageIndex[*Entry](),
		dmaIndex:       newPageIndex[*Entry](),
		addHalf:        newFifoHalf(),
		delHalf:        newFifoHalf(),
		maxCacheSize:   totalPages * maxPercent / 100,
		evictThreshold: evictThreshold,
		allocator:      allocator,
		compatible:     compatible,
	}
}

// Size returns the current cache_size: the number of pages the cache
// believes it is holding, including pages consumed by in-flight Add
// calls that have not finished publishing (§4.4's intentional
// pre-charge).
func (c *Cache) Size() uint64 { return uint64(c.cacheSize.Load()) }

// MaxSize returns max_cache_size.
func (c *Cache) MaxSize() uint64 { return c.maxCacheSize }

// Use implements §4.3: it resolves hostPage to a cached dma page usable
// for npages pages under dir, returning ok=false (NOT_FOUND) if none of
// the entries chained at hostPage can satisfy the whole range.
func (c *Cache) Use(hostPage, npages uint64, dir Direction) (dmaPage uint64, ok bool) {
	if npages == 0 {
		return 0, false
	}
	head, found := c.hostIndex.load(hostPage)
	if !found {
		cacheMisses.Inc()
		return 0, false
	}
	for e := head; e != nil; e = e.chainNext.Load() {
		if e.hostPage != hostPage || !c.compatible(e.direction, dir) {
			continue
		}
		if dp, acquired := c.acquireRange(e, npages, dir); acquired {
			cacheHits.Inc()
			return dp, true
		}
	}
	cacheMisses.Inc()
	return 0, false
}

// acquireRange implements §4.3 step 4: it tries to acquire e plus the
// npages-1 pages following it in the dma-page index, walking from the
// highest offset down to 1 so a missing tail fails fast before any
// reference is taken on pages past it, then acquires e itself last of
// all so a failure never leaves e's own reference dangling.
func (c *Cache) acquireRange(e *Entry, npages uint64, dir Direction) (uint64, bool) {
	acquired := make([]*Entry, 0, npages)
	ok := true
	for i := npages - 1; i >= 1; i-- {
		cand, found := c.dmaIndex.load(e.dmaPage + i)
		if !found || cand.hostPage != e.hostPage+i || !c.compatible(cand.direction, dir) {
			ok = false
			break
		}
		if !tryAcquire(cand) {
			ok = false
			break
		}
		acquired = append(acquired, cand)
	}
	if ok {
		if !tryAcquire(e) {
			ok = false
		} else {
			acquired = append(acquired, e)
		}
	}
	if !ok {
		for _, a := range acquired {
			release(a)
		}
		return 0, false
	}
	return e.dmaPage, true
}

// Add implements §4.4: it publishes up to npages entries starting at
// hostPage/dmaPage under dir, pre-charging cache_size for the whole
// request before attempting any publication (intentional: see §4.4).
// It returns the number of entries actually published; a return less
// than npages along with a non-nil err means Add stopped early, leaving
// [0, installed) published and consistent, per §4.4's partial-insertion
// guarantee.
func (c *Cache) Add(hostPage, dmaPage, npages uint64, dir Direction) (installed uint64, err error) {
	if npages == 0 {
		return 0, nil
	}
	c.cacheSize.Add(int64(npages))
	cacheSizeGauge.Set(float64(c.cacheSize.Load()))

	for i := uint64(0); i < npages; i++ {
		e := newEntry(hostPage+i, dmaPage+i, dir)
		if !c.dmaIndex.insertUnique(e.dmaPage, e) {
			logrus.WithFields(logrus.Fields{
				"dma_page": e.dmaPage,
			}).Warn("iommu: dma page already mapped, aborting remainder of add")
			err = ErrDoubleMapped
			break
		}
		prevHead, hadPrev := c.hostIndex.replace(hostPage+i, e)
		if hadPrev {
			e.chainNext.Store(prevHead)
		}
		c.addHalf.push(e)
		cacheInserts.Inc()
		installed++
	}
	return installed, err
}

// Free implements §4.7: it releases a reference on each of npages dma
// pages starting at dmaPage, unmapping immediately (bypassing the cache)
// any page that was never cached, then triggers eviction if cache_size
// has grown past max_cache_size.
func (c *Cache) Free(dmaPage, npages uint64) {
	if npages == 0 {
		return
	}
	immediate := newUnmapBatch(int(npages))
	for i := uint64(0); i < npages; i++ {
		if e, found := c.dmaIndex.load(dmaPage + i); found {
			release(e)
		} else {
			immediate.append(dmaPage + i)
		}
	}
	if runs := len(immediate.runs); runs > 0 {
		cacheUnmapRuns.Add(float64(runs))
		immediate.flush(c.allocator.Unmap)
	}

	exceeding := int64(c.cacheSize.Load()) - int64(c.maxCacheSize)
	if exceeding > 0 {
		c.evict(uint64(exceeding) + c.evictThreshold)
	}
}

// evict implements the eviction pass of §4.5, reclaiming up to requested
// pages from the approximate-FIFO order and batch-unmapping their dma
// pages in coalesced runs.
func (c *Cache) evict(requested uint64) {
	batch := detachForEviction(c.addHalf, c.delHalf)
	if batch == nil {
		return
	}

	unmap := newUnmapBatch(int(requested))
	var removed uint64
	cur := batch
	for cur != nil && cur != c.delHalf.sentinel && removed < requested {
		next := cur.fifoNext.Load()
		switch tryClaim(cur) {
		case claimed:
			removeEntry(c, cur)
			unmap.append(cur.dmaPage)
			cacheEvictions.Inc()
			removed++
		case claimInUse:
			c.addHalf.push(cur)
		case claimRaced:
			// Owned by a concurrent evictor; drop our reference to it
			// without re-queuing (requeuing would let it be claimed a
			// second time once the other evictor frees it).
		}
		cur = next
	}

	if cur != nil && cur != c.delHalf.sentinel {
		tail := chainTail(cur, c.delHalf.sentinel)
		c.delHalf.reattach(cur, tail)
	}

	if runs := len(unmap.runs); runs > 0 {
		cacheUnmapRuns.Add(float64(runs))
	}
	total := unmap.totalPages()
	unmap.flush(c.allocator.Unmap)
	if total > 0 {
		c.cacheSize.Add(-int64(total))
		cacheSizeGauge.Set(float64(c.cacheSize.Load()))
	}
}

// removeEntry removes e from both indices (§4.6), logging a diagnostic
// if it cannot find e where it expected to (never fatal, per §7).
func removeEntry(c *Cache, e *Entry) {
	c.dmaIndex.erase(e.dmaPage)
	if !removeFromChain(c.hostIndex, e) {
		logrus.WithFields(logrus.Fields{
			"host_page": e.hostPage,
			"dma_page":  e.dmaPage,
		}).Warn("iommu: entry missing from its host-page chain during removal")
	}
}

// chainTail walks from head along fifoNext until the node just before
// sentinel, returning that node.
func chainTail(head, sentinel *Entry) *Entry {
	tail := head
	for next := tail.fifoNext.Load(); next != sentinel; next = tail.fifoNext.Load() {
		tail = next
	}
	return tail
}

// Drain reclaims every remaining entry regardless of max_cache_size,
// used by Destroy to empty the cache before tearing down the indices.
func (c *Cache) Drain() {
	for c.Size() > 0 {
		before := c.Size()
		c.evict(before)
		if c.Size() == before {
			// Nothing claimable right now (everything in use); avoid
			// spinning forever on behalf of a caller that promised no
			// concurrent use during Destroy (§5).
			return
		}
	}
}
