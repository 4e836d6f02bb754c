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

//go:build !iommucache_disabled

package iommu

// cacheBuildEnabled gates whether DeviceTable.Init actually allocates a
// Cache, following the donor's own build-tag-switched collaborator
// pattern (runsc/fsgofer/filter/config_cgo.go, config_profile.go). This
// is the build-time half of the feature switch; max_cache_size == 0
// remains the runtime sentinel for the same disabled behavior in a
// cache-enabled build, per §6.
const cacheBuildEnabled = true
