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

package iommu

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds the tunables of a DeviceTable, loaded from a TOML
// document the way runsc's own runtime configuration is loaded.
type Config struct {
	// PageShift is log2 of the page size, e.g. 12 for 4096-byte pages.
	PageShift uint `toml:"page_shift"`
	// TotalPages is the device's total IOMMU page count.
	TotalPages uint64 `toml:"total_pages"`
	// MaxPercent is MAX_PERCENT from §3, the cache budget as a percentage
	// of TotalPages. Zero falls back to defaultMaxPercent (75).
	MaxPercent uint64 `toml:"max_percent"`
	// Threshold is THRESHOLD from §4.7, the extra eviction headroom
	// requested beyond the strict excess. Zero falls back to
	// defaultEvictThreshold (128).
	Threshold uint64 `toml:"eviction_threshold"`
}

// LoadConfig parses a TOML document at path into a Config.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "iommu: decoding config %q", path)
	}
	return cfg, nil
}

// NewDeviceTable builds a DeviceTable from cfg, wiring the given
// allocator and (optional) direction predicate, and calls Init on it.
func NewDeviceTable(cfg Config, allocator PageAllocator, compatible CompatibleFunc) (*DeviceTable, error) {
	tbl := &DeviceTable{
		PageShift:      cfg.PageShift,
		TotalPages:     cfg.TotalPages,
		MaxPercent:     cfg.MaxPercent,
		EvictThreshold: cfg.Threshold,
		Allocator:      allocator,
		Compatible:     compatible,
	}
	if err := tbl.Init(); err != nil {
		return nil, err
	}
	return tbl, nil
}
