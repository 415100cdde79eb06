package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "textbook",
		Name:      "pages_extracted_total",
		Help:      "Page rows written by background extraction.",
	})

	fallbackRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "textbook",
		Name:      "page_fallback_requests_total",
		Help:      "On-demand page reads by result (cached, extracted, failed).",
	}, []string{"result"})

	chaptersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "textbook",
		Name:      "chapters_processed_total",
		Help:      "Chapters handled by content generation by outcome.",
	}, []string{"outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "textbook",
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Wall time of pipeline stages.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage", "status"})

	pipelinesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "textbook",
		Name:      "pipelines_in_flight",
		Help:      "Pipelines currently holding a worker slot.",
	})

	completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "textbook",
		Name:      "completion_duration_seconds",
		Help:      "Latency of completion service calls including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	completionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "textbook",
		Name:      "completion_errors_total",
		Help:      "Failed completion service calls.",
	}, []string{"operation", "reason"})
)
