package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetching and crawling.
type Metrics struct {
	Registry                 *prometheus.Registry
	RequestsTotal            *prometheus.CounterVec
	RequestDuration          prometheus.Histogram
	RetriesTotal             prometheus.Counter
	ErrorsTotal              *prometheus.CounterVec
	PagesTotal               *prometheus.CounterVec
	RecordsExtractedTotal    prometheus.Counter
	FieldsMissingTotal       prometheus.Counter
	NavigationAmbiguousTotal prometheus.Counter
	InflightFetches          prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Pages processed by the crawl loop by outcome.",
		},
		[]string{"outcome"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_records_extracted_total",
			Help: "Total number of records extracted from pages.",
		},
	)
	missing := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_fields_missing_total",
			Help: "Fields that fell back to their placeholder.",
		},
	)
	ambiguous := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_navigation_ambiguous_total",
			Help: "Pages with more than one next page candidate.",
		},
	)
	inflight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawl_inflight_fetches",
			Help: "Page fetches currently in flight.",
		},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, pages, records, missing, ambiguous, inflight)

	return &Metrics{
		Registry:                 registry,
		RequestsTotal:            requests,
		RequestDuration:          requestDuration,
		RetriesTotal:             retries,
		ErrorsTotal:              errorsTotal,
		PagesTotal:               pages,
		RecordsExtractedTotal:    records,
		FieldsMissingTotal:       missing,
		NavigationAmbiguousTotal: ambiguous,
		InflightFetches:          inflight,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncPage counts a page by outcome ("visited", "failed", "discarded").
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// AddRecords adds n extracted records.
func (m *Metrics) AddRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsExtractedTotal.Add(float64(n))
}

// AddMissingFields adds n placeholder fields.
func (m *Metrics) AddMissingFields(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FieldsMissingTotal.Add(float64(n))
}

// IncNavigationAmbiguous counts a page with several next links.
func (m *Metrics) IncNavigationAmbiguous() {
	if m == nil {
		return
	}
	m.NavigationAmbiguousTotal.Inc()
}

// TrackInflight adjusts the in-flight gauge by delta.
func (m *Metrics) TrackInflight(delta float64) {
	if m == nil {
		return
	}
	m.InflightFetches.Add(delta)
}
