package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/searches/{search_id}/messages", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	r.Get("/v1/searches/{search_id}/result", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	for _, path := range []string{"/v1/searches/a/messages", "/v1/searches/b/messages", "/v1/searches/a/result", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 2, testutil.ToFloat64(
		httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/searches/{search_id}/messages", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(
		httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/searches/{search_id}/result", "409")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(
		httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")), 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
