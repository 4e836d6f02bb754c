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
	"sync/atomic"

	"github.com/wilinz/iommudmacache/pkg/atomicbitops"
)

// removingBias is subtracted from Entry.count to mark it as claimed by the
// evictor. It must exceed any plausible live reference count.
const removingBias = 0x0DEADBEE

// Entry is the unit of caching: a single host-page-to-dma-page mapping
// installed under a specific Direction.
//
// An Entry is immutable once published except for its count (the
// reference-count state machine) and chainNext (linked by Cache.Add when
// the entry becomes a chain head, and afterwards mutated only by the
// chain removal and republish code in chain.go). It is referenced from two
// indices and up to one FIFO half at a time; no single owner frees it —
// it is reclaimed exactly by whichever evictor wins tryClaim.
type Entry struct {
	dmaPage   uint64
	hostPage  uint64
	direction Direction

	// count is the reference-protocol state: >=1 means live with that
	// many holders, 0 means live and idle, -removingBias means claimed
	// by the evictor.
	count atomicbitops.Int32

	// fifoNext links this entry into whichever FIFO half currently holds
	// it (add_half or del_half), never both at once (entries are never
	// simultaneously members of both halves; only the per-half sentinels
	// are permanently pinned, one per half, see fifo.go).
	fifoNext atomic.Pointer[Entry]

	// chainNext links this entry into the chain of entries that share
	// hostPage in the host-page index.
	chainNext atomic.Pointer[Entry]

	// isSentinel marks one of the two fixed per-cache sentinel entries
	// that keep the FIFO halves non-empty. Sentinels are never returned
	// from the indices and never claimed.
	isSentinel bool
}

func newEntry(hostPage, dmaPage uint64, dir Direction) *Entry {
	e := &Entry{
		dmaPage:   dmaPage,
		hostPage:  hostPage,
		direction: dir,
	}
	e.count = atomicbitops.FromInt32(1)
	return e
}

func newSentinel() *Entry {
	e := &Entry{isSentinel: true}
	e.count = atomicbitops.FromInt32(1)
	return e
}

// DMAPage returns the entry's DMA-address page number.
func (e *Entry) DMAPage() uint64 { return e.dmaPage }

// HostPage returns the entry's host-address page number.
func (e *Entry) HostPage() uint64 { return e.hostPage }

// Direction returns the direction the mapping was installed under.
func (e *Entry) Direction() Direction { return e.direction }
