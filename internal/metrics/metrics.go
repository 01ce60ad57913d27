package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the position ledger engine.
type Metrics struct {
	EventsConsumed  *prometheus.CounterVec // labels: stream
	EventOutcomes   *prometheus.CounterVec // labels: stream, outcome
	EventErrors     *prometheus.CounterVec // labels: stream, kind
	ProcessDur      prometheus.Histogram
	AcksTotal       *prometheus.CounterVec // labels: stream
	PendingRetained *prometheus.CounterVec // labels: stream — entries left for redelivery
	PoisonEntries   prometheus.Counter
	ConsumerState   *prometheus.GaugeVec // labels: stream — 0..3 per ingest.State
	ReadErrors      *prometheus.CounterVec

	PriceRefreshes   prometheus.Counter
	PriceFetchErrors *prometheus.CounterVec // labels: provider
	PriceCacheHits   prometheus.Counter

	WSClients prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_consumed_total",
			Help: "Stream entries read per event stream",
		}, []string{"stream"}),
		EventOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_event_outcomes_total",
			Help: "Use case results by stream and outcome (success/ignored/error)",
		}, []string{"stream", "outcome"}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_event_errors_total",
			Help: "Processing errors by stream and error kind",
		}, []string{"stream", "kind"}),
		ProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_event_process_duration_seconds",
			Help:    "Use case latency per stream entry",
			Buckets: prometheus.DefBuckets,
		}),
		AcksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_acks_total",
			Help: "Entries acknowledged per stream",
		}, []string{"stream"}),
		PendingRetained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_pending_retained_total",
			Help: "Entries left pending for redelivery per stream",
		}, []string{"stream"}),
		PoisonEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_poison_entries_total",
			Help: "Undecodable entries acknowledged away",
		}),
		ConsumerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_consumer_state",
			Help: "Consumer state per stream (0=uninitialized 1=group-ready 2=consuming 3=faulted)",
		}, []string{"stream"}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_stream_read_errors_total",
			Help: "Transient stream read failures per stream",
		}, []string{"stream"}),

		PriceRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_price_refreshes_total",
			Help: "Successful market price refreshes",
		}),
		PriceFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_price_fetch_errors_total",
			Help: "Price fetch failures per provider",
		}, []string{"provider"}),
		PriceCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_price_cache_hits_total",
			Help: "Price lookups served from the cache",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	prometheus.MustRegister(
		m.EventsConsumed, m.EventOutcomes, m.EventErrors, m.ProcessDur,
		m.AcksTotal, m.PendingRetained, m.PoisonEntries, m.ConsumerState,
		m.ReadErrors, m.PriceRefreshes, m.PriceFetchErrors, m.PriceCacheHits,
		m.WSClients,
	)
	return m
}

// Serve starts the /metrics HTTP endpoint on addr in a goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[metrics] serving Prometheus metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}
