package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()
	require.NotNil(t, m)
	assert.NotNil(t, m.Registry())
}

func TestObserveFetch(t *testing.T) {
	m := New()
	m.ObserveFetch("ok", 120*time.Millisecond)
	m.ObserveFetch("ok", 80*time.Millisecond)
	m.ObserveFetch("not_found", 40*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("not_found")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.FetchDuration))
}

func TestObserveCredential(t *testing.T) {
	m := New()
	m.ObserveCredential("environment", errors.New("unset"))
	m.ObserveCredential("azure_cli", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CredentialAttempts.WithLabelValues("environment", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CredentialAttempts.WithLabelValues("azure_cli", "success")))
}

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, http.StatusOK)
	m.ObserveRequest(http.MethodPost, http.StatusServiceUnavailable)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "503")))
}

func TestObserveRequest_BoundedMethodLabel(t *testing.T) {
	m := New()
	for _, method := range []string{http.MethodDelete, "PROPFIND", "X0", "X1", "get"} {
		m.ObserveRequest(method, http.StatusUnauthorized)
	}
	m.ObserveRequest(http.MethodGet, http.StatusUnauthorized)

	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequests))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("other", "401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "401")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("ok", time.Second)
		m.ObserveCredential("environment", nil)
		m.ObserveRequest(http.MethodGet, http.StatusOK)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveFetch("ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vaultfetch_fetch_total")
	assert.Contains(t, string(body), "go_goroutines")
}
