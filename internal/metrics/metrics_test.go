package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := NewHTTP(reg)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/runs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/runs/1", "/runs/2", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/runs/{id}", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/missing", "404")))
	require.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := NewHTTP(reg)
	m.Observe("POST", "/v1/runs", 202, 0)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `http_requests_total{code="202",method="POST",route="/v1/runs"} 1`))
	require.Contains(t, string(body), "go_goroutines")
}
