package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_counters(t *testing.T) {
	m := New()

	m.IncMutation("add")
	m.IncMutation("add")
	m.IncMutation("remove")
	m.IncFade("completed")
	m.IncPlaybackRejected()
	m.IncClipsEnded()
	m.ObserveCatalogFetch("resolve_by_ids", nil)
	m.ObserveCatalogFetch("resolve_by_ids", errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionMutationsTotal.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fadesTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogFetchesTotal.WithLabelValues("resolve_by_ids", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogFetchesTotal.WithLabelValues("resolve_by_ids", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.playbackRejectedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clipsEndedTotal))
}

func TestMetrics_Handler_updates_gauges(t *testing.T) {
	m := New()
	calls := 0
	h := m.Handler(func() {
		calls++
		m.SetSessionMembers(3)
		m.SetRegistryPlayables(5)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, 1, calls, "gauges should be refreshed once per scrape")
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mixer_session_members 3")
	assert.Contains(t, string(body), "mixer_registry_playables 5")
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })

	for _, path := range []string{"/ok", "/missing", "/ok"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal))
}
