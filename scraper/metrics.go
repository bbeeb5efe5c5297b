package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ItemsScrapedTotal prometheus.Counter
	ListingPagesTotal *prometheus.CounterVec
	ComboSkippedTotal prometheus.Counter
	DroppedTotal      *prometheus.CounterVec
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beauty_scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper, by request kind.",
		},
		[]string{"kind"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beauty_scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beauty_scraper_items_scraped_total",
			Help: "Total number of assembled product records sent to the pipeline.",
		},
	)
	listingPages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beauty_scraper_listing_pages_total",
			Help: "Listing pages processed, by category slug.",
		},
		[]string{"category"},
	)
	combos := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beauty_scraper_combo_skipped_total",
			Help: "Listing entries skipped because they are product bundles.",
		},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beauty_scraper_dropped_total",
			Help: "Detail responses that did not produce a record, by reason.",
		},
		[]string{"reason"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beauty_scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beauty_scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, listingPages, combos, dropped, retries, errorsTotal)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		ListingPagesTotal: listingPages,
		ComboSkippedTotal: combos,
		DroppedTotal:      dropped,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncListingPage counts a processed listing page.
func (m *Metrics) IncListingPage(category string) {
	if m == nil {
		return
	}
	m.ListingPagesTotal.WithLabelValues(category).Inc()
}

// AddCombos counts skipped bundle entries.
func (m *Metrics) AddCombos(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ComboSkippedTotal.Add(float64(n))
}

// IncDropped counts a detail response that produced no record.
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedTotal.WithLabelValues(reason).Inc()
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
