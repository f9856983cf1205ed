// Package metrics exposes token lifecycle counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenward/internal/session"
)

const namespace = "tokenward"

// Recorder counts discovery fetches, token exchanges, session transitions
// and 401 retries. It satisfies oauth.Observer, session.Observer and
// apiclient.Observer, so one instance can be handed to every component.
type Recorder struct {
	registry *prometheus.Registry

	discoveryFetches *prometheus.CounterVec
	exchanges        *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	retries          *prometheus.CounterVec
}

// New creates a Recorder with its own registry. Go runtime and process
// collectors are registered alongside the lifecycle counters.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		discoveryFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_fetches_total",
			Help:      "Fetches of the provider configuration document by outcome.",
		}, []string{"outcome"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "Token endpoint exchanges by grant type and outcome.",
		}, []string{"grant", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"from", "to"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_unauthorized_retries_total",
			Help:      "Resource calls retried after a 401, by result of the retry.",
		}, []string{"result"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.discoveryFetches,
		r.exchanges,
		r.transitions,
		r.retries,
	)
	return r
}

// DiscoveryFetched implements oauth.Observer.
func (r *Recorder) DiscoveryFetched(outcome string) {
	r.discoveryFetches.WithLabelValues(outcome).Inc()
}

// TokenExchanged implements oauth.Observer.
func (r *Recorder) TokenExchanged(grant, outcome string) {
	r.exchanges.WithLabelValues(grant, outcome).Inc()
}

// Transition implements session.Observer.
func (r *Recorder) Transition(from, to session.State) {
	r.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// Retried implements apiclient.Observer. succeeded reports whether the
// retried request was accepted.
func (r *Recorder) Retried(succeeded bool) {
	result := "rejected"
	if succeeded {
		result = "accepted"
	}
	r.retries.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
