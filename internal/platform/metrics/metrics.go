package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the clip mixer.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	sessionMutationsTotal *prometheus.CounterVec
	fadesTotal            *prometheus.CounterVec
	playbackRejectedTotal prometheus.Counter
	clipsEndedTotal       prometheus.Counter
	catalogFetchesTotal   *prometheus.CounterVec
	sessionMembers        prometheus.Gauge
	registryPlayables     prometheus.Gauge
}

// New creates and registers Prometheus metrics for the mixer.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mixer_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mixer_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	sessionMutationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mixer_session_mutations_total",
		Help: "Total number of applied session mutations by operation",
	}, []string{"op"})
	fadesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mixer_fades_total",
		Help: "Total number of finished fades by result",
	}, []string{"result"})
	playbackRejectedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mixer_playback_rejected_total",
		Help: "Total number of play requests refused by the playback backend",
	})
	clipsEndedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mixer_clips_ended_total",
		Help: "Total number of clips that played to their end",
	})
	catalogFetchesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mixer_catalog_fetches_total",
		Help: "Total number of catalog round-trips by result",
	}, []string{"op", "result"})
	sessionMembers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mixer_session_members",
		Help: "Number of clips in the session",
	})
	registryPlayables := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mixer_registry_playables",
		Help: "Number of playables held by the registry",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		sessionMutationsTotal,
		fadesTotal,
		playbackRejectedTotal,
		clipsEndedTotal,
		catalogFetchesTotal,
		sessionMembers,
		registryPlayables,
	)

	return &Metrics{
		registry:              registry,
		requestsTotal:         requestsTotal,
		errorsTotal:           errorsTotal,
		sessionMutationsTotal: sessionMutationsTotal,
		fadesTotal:            fadesTotal,
		playbackRejectedTotal: playbackRejectedTotal,
		clipsEndedTotal:       clipsEndedTotal,
		catalogFetchesTotal:   catalogFetchesTotal,
		sessionMembers:        sessionMembers,
		registryPlayables:     registryPlayables,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncMutation increments the session mutation counter for op.
func (m *Metrics) IncMutation(op string) {
	m.sessionMutationsTotal.WithLabelValues(op).Inc()
}

// IncFade increments the fade counter for result
// ("completed", "superseded", "abandoned").
func (m *Metrics) IncFade(result string) {
	m.fadesTotal.WithLabelValues(result).Inc()
}

// IncPlaybackRejected increments the rejected playback counter.
func (m *Metrics) IncPlaybackRejected() {
	m.playbackRejectedTotal.Inc()
}

// IncClipsEnded increments the ended clips counter.
func (m *Metrics) IncClipsEnded() {
	m.clipsEndedTotal.Inc()
}

// ObserveCatalogFetch records one catalog round-trip for op.
func (m *Metrics) ObserveCatalogFetch(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.catalogFetchesTotal.WithLabelValues(op, result).Inc()
}

// SetSessionMembers sets the session members gauge.
func (m *Metrics) SetSessionMembers(n int) {
	m.sessionMembers.Set(float64(n))
}

// SetRegistryPlayables sets the registry playables gauge.
func (m *Metrics) SetRegistryPlayables(n int) {
	m.registryPlayables.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
