// Package metrics declares the Prometheus collectors of the label pipeline.
// Collectors register on the default registry at init through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labeldrop_generations_total",
		Help: "Finished generations by outcome kind (ok or an error kind).",
	}, []string{"outcome"})

	LabelsRendered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labeldrop_labels_rendered_total",
		Help: "Labels written into output documents.",
	})

	ItemsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labeldrop_items_skipped_total",
		Help: "Items skipped in partial mode by failure kind.",
	}, []string{"kind"})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labeldrop_decode_failures_total",
		Help: "Embedded code images that could not be decoded.",
	})

	PreflightFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labeldrop_preflight_failures_total",
		Help: "Preflight failures by kind.",
	}, []string{"kind"})

	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labeldrop_ledger_conflicts_total",
		Help: "Reservations refused because the code was already used.",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labeldrop_parse_cache_lookups_total",
		Help: "Parse cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "labeldrop_pipeline_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})
)
