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

// UnmapRun describes a contiguous run of DMA pages to release in one
// call, the contract between the evictor and the external unmap
// primitive (§6): Base is the first DMA page number, Length is the page
// count.
type UnmapRun struct {
	Base   uint64
	Length uint64
}

// PageAllocator is the external IOMMU page allocator collaborator
// (iommu_alloc/iommu_free). The cache never allocates DMA pages itself
// (performing IOMMU page allocation is an explicit non-goal); it only
// ever calls Unmap, on cache eviction (§4.5) and on Free for
// direct/uncached pages (§4.7).
type PageAllocator struct {
	// Unmap releases a contiguous run of DMA pages. It must be safe to
	// call concurrently and must not block in a way that would violate
	// the no-blocking scheduling model of §5 if the cache is used from
	// an interrupt-like context; implementations targeting such contexts
	// should make Unmap itself non-blocking.
	Unmap func(run UnmapRun)
}
