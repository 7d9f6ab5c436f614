// Package metrics exposes Prometheus instruments for the annotation core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DocumentScans counts per-document scans by result: hit, miss, error.
	DocumentScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginalia_document_scans_total",
		Help: "Per-document scans by cache result",
	}, []string{"result"})

	// ScanAllDuration observes aggregate scan latency.
	ScanAllDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marginalia_scan_all_duration_seconds",
		Help:    "Duration of aggregate collection scans",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// Annotations is the size of the last aggregate scan.
	Annotations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marginalia_annotations",
		Help: "Annotations produced by the last aggregate scan",
	})

	// BrokenLinks is the number of unresolved references in the last graph build.
	BrokenLinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marginalia_broken_links",
		Help: "Unresolved annotation references in the current graph",
	})

	// StitchLinks counts stitched references by result: linked, failed, skipped.
	StitchLinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginalia_stitch_links_total",
		Help: "References written by stitch batches",
	}, []string{"result"})

	// Grades counts review grades by grade name.
	Grades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginalia_review_grades_total",
		Help: "Review grades recorded",
	}, []string{"grade"})

	// Captures counts annotations harvested into inbox documents.
	Captures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marginalia_captures_total",
		Help: "Annotations captured into destination documents",
	})

	// SSEClients is the number of connected event-stream clients.
	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marginalia_sse_clients",
		Help: "Connected Server-Sent Events clients",
	})

	// SSEDropped counts messages skipped because a client's buffer was full.
	SSEDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marginalia_sse_dropped_total",
		Help: "Event messages dropped for slow clients",
	})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
