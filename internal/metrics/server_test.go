package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SebastianBathrick/dporch/internal/logging"
)

func TestHealthzReportsProvidedState(t *testing.T) {
	m := New()
	srv := NewServer(":0", m, func() string { return "iterating" }, logging.NewDefault())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "iterating")
}

func TestMetricsEndpointExposesRegisteredCollectors(t *testing.T) {
	m := New()
	m.RecordIteration(0, false)
	srv := NewServer(":0", m, func() string { return "terminated" }, logging.NewDefault())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dporch_iterations_total")
}
