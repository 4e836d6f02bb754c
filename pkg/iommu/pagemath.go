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
	"math/bits"

	"golang.org/x/sys/unix"
)

// HostPageShift returns log2 of the host's runtime page size, for callers
// that configure a DeviceTable to match the mm this process actually runs
// under rather than a fixed constant, grounded on the donor's own
// getpagesize()-derived address math in pkg/sentry/mm.
func HostPageShift() uint {
	size := unix.Getpagesize()
	return uint(bits.TrailingZeros(uint(size)))
}

// pageAligned reports whether addr falls on a pageShift-sized boundary.
func pageAligned(addr uint64, pageShift uint) bool {
	return addr&(1<<pageShift-1) == 0
}

// pageNumber converts a byte address to the page number containing it.
func pageNumber(addr uint64, pageShift uint) uint64 {
	return addr >> pageShift
}

// pageOffset converts a page number back to its base byte address.
func pageOffset(page uint64, pageShift uint) uint64 {
	return page << pageShift
}
