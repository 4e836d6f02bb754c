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

import "github.com/pkg/errors"

// Sentinel errors returned by the public API. None of these are fatal:
// every failure here degrades to "install a fresh mapping instead of
// reusing the cache", per the design's error handling policy.
var (
	// ErrNotFound is returned by Use when no cached mapping satisfies the
	// requested range and direction.
	ErrNotFound = errors.New("iommu: no cached dma mapping for range")

	// ErrDoubleMapped is returned by Add when it attempts to publish
	// a dma page that is already present in the dma-page index. This is
	// a programming error on the caller's part: the same dma page was
	// mapped twice without an intervening Free.
	ErrDoubleMapped = errors.New("iommu: dma page already mapped")

	// ErrDisabled is returned by operations that require an enabled
	// cache when the cache was compiled out or configured with
	// max_cache_size == 0.
	ErrDisabled = errors.New("iommu: cache disabled")

	// ErrDrainIncomplete is returned by DeviceTable.Destroy if entries
	// remained live (in use) and could not be reclaimed during drain;
	// per §5, Destroy assumes no concurrent operation is in flight, so
	// this indicates the caller violated that precondition.
	ErrDrainIncomplete = errors.New("iommu: destroy could not reclaim all entries")
)
