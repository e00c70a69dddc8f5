// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package telemetry holds the process-wide Prometheus collectors plus a few
// atomic counters consumed by the health endpoint. Collectors are registered
// eagerly; if no /metrics endpoint is exposed the registration is harmless.
package telemetry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts inbound analysis requests per endpoint and method.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lix_requests_total",
		Help: "Total count of text analysis requests",
	}, []string{"endpoint", "method"})

	// ProcessingSeconds tracks time spent producing an analysis per endpoint.
	ProcessingSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lix_processing_seconds",
		Help:    "Time spent processing text analysis",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// ErrorsTotal counts failures per endpoint and error kind.
	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lix_errors_total",
		Help: "Total count of errors in text analysis",
	}, []string{"endpoint", "kind"})

	// CacheHitsTotal / CacheMissesTotal track shared-cache effectiveness.
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lix_cache_hits_total",
		Help: "Total count of shared cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lix_cache_misses_total",
		Help: "Total count of shared cache misses",
	})

	// ActiveTypingSessions gauges currently open real-time typing connections.
	ActiveTypingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lix_typing_sessions_active",
		Help: "Number of active real-time typing connections",
	})

	// BusMessagesTotal counts pub/sub traffic by channel and direction.
	BusMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lix_bus_messages_total",
		Help: "Pub/sub messages handled, by channel and direction",
	}, []string{"channel", "direction"})

	// QueueMessagesTotal counts persistent-queue traffic by direction.
	QueueMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lix_queue_messages_total",
		Help: "Persistent queue messages, by direction",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal, ProcessingSeconds, ErrorsTotal,
		CacheHitsTotal, CacheMissesTotal,
		ActiveTypingSessions, BusMessagesTotal, QueueMessagesTotal,
	)
}

// The health endpoint needs the raw hit/miss totals without scraping the
// Prometheus registry, so we mirror them in atomics.
var (
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
)

// RecordCacheHit bumps both the Prometheus counter and the health mirror.
func RecordCacheHit() {
	CacheHitsTotal.Inc()
	cacheHits.Add(1)
}

// RecordCacheMiss bumps both the Prometheus counter and the health mirror.
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
	cacheMisses.Add(1)
}

// CacheHitRatio returns hits/(hits+misses), or 0 before any lookup.
func CacheHitRatio() float64 {
	h, m := cacheHits.Load(), cacheMisses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// resetForTests zeroes the health mirror counters. Tests only.
func resetForTests() {
	cacheHits.Store(0)
	cacheMisses.Store(0)
}
