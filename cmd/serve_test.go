package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-sync/internal/config"
	"github.com/sells-group/screening-sync/internal/crm/crmtest"
	"github.com/sells-group/screening-sync/internal/metrics"
	"github.com/sells-group/screening-sync/internal/reconcile"
)

func newTestMux(t *testing.T) http.Handler {
	t.Helper()
	prev := cfg
	cfg = &config.Config{CRM: config.CRMConfig{SiteChunkSize: 100}}
	t.Cleanup(func() { cfg = prev })

	e := &env{
		Store:   newTestStore(t),
		CRM:     &crmtest.Fake{},
		Rules:   reconcile.NewRules([]string{"A1310"}),
		Metrics: metrics.New(),
	}
	return newServeMux(e, nil)
}

func TestServeMux_Health(t *testing.T) {
	mux := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServeMux_Status(t *testing.T) {
	mux := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?hours=48", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, 48, snap.LookbackHours)
}

func TestServeMux_MetricsAndWorklist(t *testing.T) {
	mux := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/worklist", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}
