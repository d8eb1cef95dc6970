// Package metrics holds the Prometheus collectors of the report service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SectionFlushes counts section flushes by section and result.
	SectionFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportdesk_section_flush_total",
		Help: "Section flushes by section and result",
	}, []string{"section", "result"})

	SectionFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reportdesk_section_flush_duration_seconds",
		Help:    "Section flush duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"section"})

	SaveAllAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportdesk_save_all_aborted_total",
		Help: "Save-all rounds aborted because a section failed",
	})

	Snapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportdesk_snapshots_total",
		Help: "Approval snapshots written",
	})

	// GuardBlocks counts navigation or exit attempts stopped by unsaved changes.
	GuardBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportdesk_guard_blocks_total",
		Help: "Section switches or exits blocked by unsaved changes",
	}, []string{"reason"})

	HookFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportdesk_snapshot_hook_failures_total",
		Help: "Snapshot hook failures by hook",
	}, []string{"hook"})

	ExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reportdesk_export_duration_seconds",
		Help:    "Snapshot export duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"format"})
)

// ObserveFlush records one section flush.
func ObserveFlush(section string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SectionFlushes.WithLabelValues(section, result).Inc()
	SectionFlushDuration.WithLabelValues(section).Observe(d.Seconds())
}
