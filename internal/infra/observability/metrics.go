package observability

import (
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const (
	metricEntries     = "ledger_entries_written_total"
	metricRollbacks   = "ledger_rollbacks_total"
	metricRejections  = "ledger_domain_rejections_total"
	metricTransient   = "ledger_transient_errors_total"
	metricAccrualDays = "ledger_accrual_days_total"
	metricCacheHits   = "ledger_cache_hits_total"
	metricCacheMisses = "ledger_cache_misses_total"
)

// Metrics holds all Prometheus metrics of the ledger service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	opDuration       *prometheus.HistogramVec
	entriesWritten   *prometheus.CounterVec
	rollbacks        prometheus.Counter
	domainRejections *prometheus.CounterVec
	transientErrors  *prometheus.CounterVec
	accrualDays      *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		entriesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricEntries,
				Help: "Ledger entries committed, by kind.",
			},
			[]string{"kind"},
		),
		rollbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: metricRollbacks,
				Help: "Entries reversed by undo.",
			},
		),
		domainRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricRejections,
				Help: "Operations rejected by a domain rule.",
			},
			[]string{"reason"},
		),
		transientErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricTransient,
				Help: "Operations rolled back by a store-level failure.",
			},
			[]string{"operation"},
		),
		accrualDays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricAccrualDays,
				Help: "Business days compounded into investments.",
			},
			[]string{"period"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricCacheHits,
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricCacheMisses,
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_http_requests_total",
				Help: "Total HTTP requests processed.",
			},
			[]string{"status"},
		),
	}
}

// RecordOperation records the duration of a ledger operation.
func (m *Metrics) RecordOperation(operation string, d time.Duration) {
	m.opDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrEntry counts a committed ledger entry.
func (m *Metrics) IncrEntry(kind domain.EntryKind) {
	m.entriesWritten.WithLabelValues(string(kind)).Inc()
}

// IncrRollback counts a reversed entry.
func (m *Metrics) IncrRollback() {
	m.rollbacks.Inc()
}

// IncrRejection counts a domain rule rejection.
func (m *Metrics) IncrRejection(reason string) {
	m.domainRejections.WithLabelValues(reason).Inc()
}

// IncrTransient counts a store-level failure.
func (m *Metrics) IncrTransient(operation string) {
	m.transientErrors.WithLabelValues(operation).Inc()
}

// AddAccrualDays counts compounded business days.
func (m *Metrics) AddAccrualDays(period domain.RatePeriod, days int) {
	if days > 0 {
		m.accrualDays.WithLabelValues(string(period)).Add(float64(days))
	}
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrRequest increments the request counter with a status label.
func (m *Metrics) IncrRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// GetLedgerSnapshot returns cumulative counters for the
// GET /v1/metrics/ledger endpoint.
func (m *Metrics) GetLedgerSnapshot() *domain.LedgerMetrics {
	totals := m.gatherTotals()

	hits, misses := totals[metricCacheHits], totals[metricCacheMisses]
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.LedgerMetrics{
		EntriesWritten:   int64(totals[metricEntries]),
		Rollbacks:        int64(totals[metricRollbacks]),
		DomainRejections: int64(totals[metricRejections]),
		TransientErrors:  int64(totals[metricTransient]),
		AccrualDays:      int64(totals[metricAccrualDays]),
		RateCacheHitRate: hitRate,
		Period:           "all_time",
	}
}

// gatherTotals sums every counter family across its labels.
func (m *Metrics) gatherTotals() map[string]float64 {
	out := make(map[string]float64)
	families, err := m.Registry.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, metric := range mf.GetMetric() {
			out[mf.GetName()] += metric.GetCounter().GetValue()
		}
	}
	return out
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// EntriesOfKind returns how many entries of kind were committed.
func (m *Metrics) EntriesOfKind(kind domain.EntryKind) float64 {
	return getCounterValue(m.entriesWritten, string(kind))
}
