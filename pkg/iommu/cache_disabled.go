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

//go:build iommucache_disabled

package iommu

// cacheBuildEnabled is false in builds tagged iommucache_disabled: the
// cache is compiled out entirely, and Add/Use become no-ops while Free
// forwards straight to the external allocator, per §6's build-time
// feature switch.
const cacheBuildEnabled = false
