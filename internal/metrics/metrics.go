// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcome labels.
const (
	OutcomeDone    = "done"
	OutcomeCached  = "cached"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
)

// Fetch attempt result labels.
const (
	FetchSuccess = "success"
	FetchMiss    = "miss"
	FetchError   = "error"
)

var (
	archiverItemsTotal       *prometheus.CounterVec
	archiverFetchesTotal     *prometheus.CounterVec
	archiverMediaStoredTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiverItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_items_total",
				Help: "Total number of archived items, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)

		archiverFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetches_total",
				Help: "Total number of fetch attempts, labeled by fetcher and result.",
			},
			[]string{"fetcher", "result"},
		)

		archiverMediaStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_media_stored_total",
				Help: "Total number of media objects stored, labeled by storage backend.",
			},
			[]string{"storage"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem increments the item counter for the given terminal outcome.
func ObserveItem(outcome string) {
	if archiverItemsTotal == nil {
		return
	}
	archiverItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch increments the fetch attempt counter.
func ObserveFetch(fetcher, result string) {
	if archiverFetchesTotal == nil {
		return
	}
	archiverFetchesTotal.WithLabelValues(fetcher, result).Inc()
}

// ObserveMediaStored increments the stored media counter.
func ObserveMediaStored(storage string) {
	if archiverMediaStoredTotal == nil {
		return
	}
	archiverMediaStoredTotal.WithLabelValues(storage).Inc()
}
