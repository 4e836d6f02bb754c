// Copyright 2020 The gVisor Authors.
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

// Package-level instrumentation, mirroring the shape of the donor's
// pkg/sentry/fsmetric: cumulative package-level counters plus one gauge,
// registered once and updated from the hot path without ever gating
// control flow on their presence.
package iommu

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iommu_cache_hits_total",
		Help: "Number of Use calls satisfied from the dma-mapping cache.",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iommu_cache_misses_total",
		Help: "Number of Use calls that found no compatible cached mapping.",
	})
	cacheInserts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iommu_cache_inserts_total",
		Help: "Number of entries successfully published by Add.",
	})
	cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iommu_cache_evictions_total",
		Help: "Number of entries reclaimed by the evictor.",
	})
	cacheUnmapRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iommu_cache_unmap_runs_total",
		Help: "Number of coalesced unmap runs issued to the external allocator.",
	})
	cacheSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "iommu_cache_size",
		Help: "Current number of pages tracked by the cache (mirrors cache_size).",
	})
)

// RegisterMetrics registers this package's collectors with reg. It is
// safe to call at most once per registry; callers that do not want
// Prometheus instrumentation simply never call it.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		cacheHits, cacheMisses, cacheInserts, cacheEvictions, cacheUnmapRuns, cacheSizeGauge,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
