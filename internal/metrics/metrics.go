// Package metrics exposes the service's Prometheus collectors
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "device_auth"

// Registry holds the service collectors on a dedicated Prometheus registry
type Registry struct {
	reg              *prometheus.Registry
	rateLimit        *prometheus.CounterVec
	failures         *prometheus.CounterVec
	tokensIssued     *prometheus.CounterVec
	storeUnavailable *prometheus.CounterVec
}

// NewRegistry creates and registers all collectors
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		rateLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by deciding tier and result.",
		}, []string{"tier", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Rejected requests by error kind.",
		}, []string{"kind"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Token pairs issued by grant.",
		}, []string{"grant"}),
		storeUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_unavailable_total",
			Help:      "Store calls that failed or timed out by component.",
		}, []string{"component"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.rateLimit,
		r.failures,
		r.tokensIssued,
		r.storeUnavailable,
	)
	return r
}

// IncRateLimit counts one limiter decision
func (r *Registry) IncRateLimit(tier, result string) {
	if r == nil {
		return
	}
	r.rateLimit.WithLabelValues(tier, result).Inc()
}

// IncFailure counts one rejected request
func (r *Registry) IncFailure(kind string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(kind).Inc()
}

// IncTokensIssued counts one issued token pair
func (r *Registry) IncTokensIssued(grant string) {
	if r == nil {
		return
	}
	r.tokensIssued.WithLabelValues(grant).Inc()
}

// IncStoreUnavailable counts one failed store call
func (r *Registry) IncStoreUnavailable(component string) {
	if r == nil {
		return
	}
	r.storeUnavailable.WithLabelValues(component).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
