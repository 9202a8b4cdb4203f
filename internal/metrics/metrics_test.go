package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	m := New(nil)

	m.RowsFetched("geography", 10)
	m.RowsFetched("geography", 5)
	m.RowsDropped("geography", 3)
	m.RowsDropped("flow", 0)

	assert.Equal(t, 15.0, testutil.ToFloat64(m.RowsFetchedTotal.WithLabelValues("geography")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsDroppedTotal.WithLabelValues("geography")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RowsDroppedTotal.WithLabelValues("flow")))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New(nil)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/items/{id}", "418")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.RowsFetched("locations", 2)
	m.RowsDropped("locations", 1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `peer_analytics_rows_fetched_total{view="locations"} 2`)
	assert.Contains(t, string(body), `peer_analytics_dropped_rows_total{view="locations"} 1`)
}
