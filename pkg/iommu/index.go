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
	"github.com/puzpuzpuz/xsync/v4"
)

// pageIndex is a concurrent, sparse map from a page number to a value,
// backed by xsync.Map. It stands in for the donor's internal
// pkg/sync-guarded maps: xsync.Map gives us lock-free point load, insert,
// and erase without our own mutex, which is what the indices in §4.1
// require (they need no range iteration).
type pageIndex[V any] struct {
	m *xsync.Map[uint64, V]
}

func newPageIndex[V any]() *pageIndex[V] {
	return &pageIndex[V]{m: xsync.NewMap[uint64, V]()}
}

// load returns the value stored at key, if any.
func (p *pageIndex[V]) load(key uint64) (V, bool) {
	return p.m.Load(key)
}

// insertUnique stores value at key iff no value is currently stored
// there. It reports whether the store happened; a false return means the
// caller tried to double-map the key, which §4.1 treats as a programming
// error.
func (p *pageIndex[V]) insertUnique(key uint64, value V) bool {
	_, loaded := p.m.LoadOrStore(key, value)
	return !loaded
}

// erase removes key unconditionally.
func (p *pageIndex[V]) erase(key uint64) {
	p.m.Delete(key)
}

// eraseExpect removes key and reports the value that was there, if any.
func (p *pageIndex[V]) eraseExpect(key uint64) (V, bool) {
	return p.m.LoadAndDelete(key)
}

// replace implements the atomic read-modify-write "replace" operation
// §4.1 requires: it unconditionally installs value at key and returns
// whatever was there before.
//
// xsync.Map has no single swap-and-return-old primitive across the
// versions this is grounded on, so replace is built from LoadAndDelete +
// Store, guarded by a LoadOrStore retry for the case where a concurrent
// insert lands in the gap between the two: the same optimistic-retry
// discipline §4.6 prescribes for the chain-head republish loop.
func (p *pageIndex[V]) replace(key uint64, value V) (old V, hadOld bool) {
	for {
		if prev, ok := p.m.LoadAndDelete(key); ok {
			p.m.Store(key, value)
			return prev, true
		}
		if _, loaded := p.m.LoadOrStore(key, value); !loaded {
			var zero V
			return zero, false
		}
		// A concurrent insert raced us between the failed LoadAndDelete
		// and the LoadOrStore; retry, this time we should observe it.
	}
}
