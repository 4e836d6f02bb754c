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

// Package atomicbitops wraps sync/atomic so that callers never have to spell
// out the underlying type of an atomically-accessed field, and so call sites
// read the same whether the field is a counter, a flag, or (as in
// pkg/iommu) a reference-count state machine.
package atomicbitops

import "sync/atomic"

// Int32 is an atomic int32. The zero value is 0.
type Int32 struct {
	v atomic.Int32
}

// FromInt32 returns an Int32 initialized to v.
func FromInt32(v int32) Int32 {
	a := Int32{}
	a.v.Store(v)
	return a
}

// Load returns the current value.
func (a *Int32) Load() int32 {
	return a.v.Load()
}

// Store sets the value unconditionally.
func (a *Int32) Store(v int32) {
	a.v.Store(v)
}

// Add adds delta and returns the new value.
func (a *Int32) Add(delta int32) int32 {
	return a.v.Add(delta)
}

// CompareAndSwap reports whether it replaced old with new.
func (a *Int32) CompareAndSwap(old, new int32) bool {
	return a.v.CompareAndSwap(old, new)
}

// Swap sets new and returns the previous value.
func (a *Int32) Swap(new int32) int32 {
	return a.v.Swap(new)
}
