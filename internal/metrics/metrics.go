// Package metrics exposes Prometheus metrics for HTTP traffic, logins and the
// session refresh loops.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "community_portal"

// Metrics holds all Prometheus metrics of the portal.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LoginsTotal        *prometheus.CounterVec
	RefreshesTotal     *prometheus.CounterVec
	ForcedLogoutsTotal *prometheus.CounterVec
	ProfileChecksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Login attempts by result code",
			},
			[]string{"flow", "result"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Background token refreshes by result code",
			},
			[]string{"result"},
		),
		ForcedLogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forced_logouts_total",
				Help:      "Sessions ended by the refresh loop",
			},
			[]string{"reason"},
		),
		ProfileChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_checks_total",
				Help:      "Profile status checks by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.RefreshesTotal,
		m.ForcedLogoutsTotal,
		m.ProfileChecksTotal,
	)
	return m
}

// RegisterActiveSessions exports the number of live sessions reported by count.
func (m *Metrics) RegisterActiveSessions(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions with a running refresh loop",
		},
		func() float64 { return float64(count()) },
	))
}

// RefreshResult records the outcome of one background refresh. An empty code is a
// success.
func (m *Metrics) RefreshResult(code autherr.Code) {
	m.RefreshesTotal.WithLabelValues(resultLabel(code)).Inc()
}

// ForcedLogout records a session ended by the refresh loop.
func (m *Metrics) ForcedLogout(reason models.SessionEventType) {
	m.ForcedLogoutsTotal.WithLabelValues(string(reason)).Inc()
}

// LoginResult records the outcome of a login through flow ("password", "code").
func (m *Metrics) LoginResult(flow string, code autherr.Code) {
	m.LoginsTotal.WithLabelValues(flow, resultLabel(code)).Inc()
}

// ProfileChecked records a profile status check outcome.
func (m *Metrics) ProfileChecked(hasProfile bool, code autherr.Code) {
	outcome := "no_profile"
	switch {
	case code != "":
		outcome = "error"
	case hasProfile:
		outcome = "profile"
	}
	m.ProfileChecksTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and durations labelled by route template, so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func resultLabel(code autherr.Code) string {
	if code == "" {
		return "success"
	}
	return string(code)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
