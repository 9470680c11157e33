package web

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	malformed prometheus.Counter
	searches  *prometheus.CounterVec
	hits      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crarchive_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crarchive_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crarchive_http_malformed_total",
			Help: "Requests answered with 444.",
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crarchive_searches_total",
			Help: "Search queries by result: ok, parse_error, rate_limited or error.",
		}, []string{"result"}),
		hits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crarchive_search_hits",
			Help:    "Matching pages per search.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.latency, m.malformed, m.searches, m.hits} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(route string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}
