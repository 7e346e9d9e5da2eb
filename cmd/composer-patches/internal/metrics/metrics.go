// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package metrics records per-invocation counters for composer-patches.

A CLI run is too short-lived to be scraped, so metrics are written once at
exit in the Prometheus text exposition format to a file picked up by the
node_exporter textfile collector.

# Metrics Exported

  - composer_patches_patches_created_total: Counter by operation
  - composer_patches_patches_removed_total: Counter
  - composer_patches_changes_skipped_total: Counter by operation and reason
  - composer_patches_review_requests_total: Counter by endpoint and outcome
  - composer_patches_uninstalls_total: Counter by outcome
  - composer_patches_operation_duration_seconds: Histogram by operation
*/
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "composer_patches"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder receives lifecycle and transport events.
type Recorder interface {
	PatchesCreated(operation string, n int)
	PatchesRemoved(n int)
	ChangeSkipped(operation, reason string)
	ReviewRequest(endpoint, outcome string)
	Uninstall(outcome string)
	ObserveOperation(operation string, d time.Duration)
}

// -----------------------------------------------------------------------------
// NoOp
// -----------------------------------------------------------------------------

// NoOp discards every event.
type NoOp struct{}

func (NoOp) PatchesCreated(string, int) {}
func (NoOp) PatchesRemoved(int) {}
func (NoOp) ChangeSkipped(string, string) {}
func (NoOp) ReviewRequest(string, string) {}
func (NoOp) Uninstall(string) {}
func (NoOp) ObserveOperation(string, time.Duration) {}

// -----------------------------------------------------------------------------
// Prometheus
// -----------------------------------------------------------------------------

// Prometheus records events into a private registry.
//
// # Thread Safety
//
// Safe for concurrent use; uninstall outcomes arrive from worker goroutines.
type Prometheus struct {
	registry *prometheus.Registry

	patchesCreated    *prometheus.CounterVec
	patchesRemoved    prometheus.Counter
	changesSkipped    *prometheus.CounterVec
	reviewRequests    *prometheus.CounterVec
	uninstalls        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	writeMu sync.Mutex
}

// NewPrometheus creates the collectors and registers them on a fresh
// registry.
func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		patchesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "patches_created_total",
				Help:      "Patch files created, by lifecycle operation.",
			},
			[]string{"operation"},
		),
		patchesRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "patches_removed_total",
				Help:      "Patch file references removed from the registry.",
			},
		),
		changesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "changes_skipped_total",
				Help:      "Change ids skipped during a batch, by reason.",
			},
			[]string{"operation", "reason"},
		),
		reviewRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "review_requests_total",
				Help:      "Requests made to the review service.",
			},
			[]string{"endpoint", "outcome"},
		),
		uninstalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "uninstalls_total",
				Help:      "Package uninstalls issued.",
			},
			[]string{"outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Wall time of lifecycle operations.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
	}
	m.registry.MustRegister(
		m.patchesCreated,
		m.patchesRemoved,
		m.changesSkipped,
		m.reviewRequests,
		m.uninstalls,
		m.operationDuration,
	)
	return m
}

func (m *Prometheus) PatchesCreated(operation string, n int) {
	m.patchesCreated.WithLabelValues(operation).Add(float64(n))
}

func (m *Prometheus) PatchesRemoved(n int) {
	m.patchesRemoved.Add(float64(n))
}

func (m *Prometheus) ChangeSkipped(operation, reason string) {
	m.changesSkipped.WithLabelValues(operation, reason).Inc()
}

func (m *Prometheus) ReviewRequest(endpoint, outcome string) {
	m.reviewRequests.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Prometheus) Uninstall(outcome string) {
	m.uninstalls.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) ObserveOperation(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Gatherer exposes the registry, mainly for tests.
func (m *Prometheus) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (m *Prometheus) WriteTextfile(path string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// New returns a Prometheus recorder when enabled, otherwise NoOp.
func New(enabled bool) Recorder {
	if enabled {
		return NewPrometheus()
	}
	return NoOp{}
}

var (
	_ Recorder = NoOp{}
	_ Recorder = (*Prometheus)(nil)
)
