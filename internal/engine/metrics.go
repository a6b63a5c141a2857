package engine

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of the engine. A nil *Metrics
// records nothing.
type Metrics struct {
	queries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	statements prometheus.Histogram
	cache      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivot",
			Name:      "queries_total",
			Help:      "Queries executed, by data cube and outcome.",
		}, []string{"data_cube", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pivot",
			Name:      "query_duration_seconds",
			Help:      "Wall time of executed queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"data_cube"}),
		statements: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pivot",
			Name:      "sql_statement_duration_seconds",
			Help:      "Wall time of the SQL statements queries run.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivot",
			Name:      "cache_requests_total",
			Help:      "Result cache lookups, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.queries, m.duration, m.statements, m.cache)
	return m
}

func (m *Metrics) queryDone(dataCube string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = strings.ToLower(string(AsQueryError(err, dataCube).Code))
	}
	m.queries.WithLabelValues(dataCube, status).Inc()
	m.duration.WithLabelValues(dataCube).Observe(d.Seconds())
}

func (m *Metrics) statementDone(d time.Duration) {
	if m == nil {
		return
	}
	m.statements.Observe(d.Seconds())
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}
