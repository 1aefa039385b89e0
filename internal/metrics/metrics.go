// Package metrics exposes Prometheus counters for share-token and ACL
// activity. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medvault"

type Metrics struct {
	registry *prometheus.Registry

	tokensIssued    *prometheus.CounterVec
	tokenChecks     *prometheus.CounterVec
	tokenViews      prometheus.Counter
	cleanupRemovals *prometheus.CounterVec
	aclChecks       *prometheus.CounterVec
	uploads         prometheus.Counter
}

// New registers the vault counters on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Access tokens created, by share type.",
		}, []string{"share_type"}),
		tokenChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Access token validations, by outcome.",
		}, []string{"outcome"}),
		tokenViews: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_views_total",
			Help:      "Views recorded against access tokens.",
		}),
		cleanupRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Records removed by housekeeping, by kind.",
		}, []string{"kind"}),
		aclChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acl_checks_total",
			Help:      "ACL verifications, by access type or denial.",
		}, []string{"result"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Encrypted files stored.",
		}),
	}
	reg.MustRegister(
		m.tokensIssued,
		m.tokenChecks,
		m.tokenViews,
		m.cleanupRemovals,
		m.aclChecks,
		m.uploads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TokenIssued(shareType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(shareType).Inc()
}

// TokenChecked counts a validation; outcome is "valid" or a short rejection
// kind such as "expired".
func (m *Metrics) TokenChecked(outcome string) {
	if m == nil {
		return
	}
	m.tokenChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenViewed() {
	if m == nil {
		return
	}
	m.tokenViews.Inc()
}

func (m *Metrics) CleanupRemoved(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupRemovals.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ACLChecked(result string) {
	if m == nil {
		return
	}
	m.aclChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) Uploaded() {
	if m == nil {
		return
	}
	m.uploads.Inc()
}
