package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-sync/internal/model"
	"github.com/sells-group/screening-sync/internal/store"
)

func TestObserveRun(t *testing.T) {
	r := New()
	r.ObserveRun("crl", model.RunStatusComplete, model.RunCounts{
		Deduplicated: 10, Complete: 7, Incomplete: 3, Staged: 2, Accepted: 6, Rejected: 1, CreatedSites: 4,
	})
	r.ObserveRun("crl", model.RunStatusFailed, model.RunCounts{Accepted: 2})

	assert.InDelta(t, 8, testutil.ToFloat64(r.records.WithLabelValues("crl", OutcomeAccepted)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(r.records.WithLabelValues("crl", OutcomeIncomplete)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(r.sitesCreated), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.runs.WithLabelValues("crl", "failed")), 0)
}

func TestObserveRun_NilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() { r.ObserveRun("crl", model.RunStatusComplete, model.RunCounts{Accepted: 1}) })
}

func TestObserveSubmission(t *testing.T) {
	r := New()
	r.ObserveSubmission("review", 1, 2, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(r.records.WithLabelValues("review", OutcomeAccepted)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.records.WithLabelValues("review", OutcomeRejected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.sitesCreated), 0)
	assert.Zero(t, testutil.CollectAndCount(r.runs), "review actions are not runs")
}

func TestObserveSubmission_NilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() { r.ObserveSubmission("review", 1, 0, 0) })
}

func TestHandler(t *testing.T) {
	r := New()
	r.ObserveRun("escreen", model.RunStatusComplete, model.RunCounts{Accepted: 5})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `screening_sync_records_total{outcome="accepted",source="escreen"} 5`)
}

type stubRuns struct {
	runs []model.Run
	err  error
}

func (s stubRuns) ListRuns(context.Context, store.RunFilter) ([]model.Run, error) {
	return s.runs, s.err
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{Source: "crl", Status: model.RunStatusComplete, StartedAt: now.Add(-time.Hour), Counts: model.RunCounts{Accepted: 5, Staged: 1}},
		{Source: "crl", Status: model.RunStatusComplete, StartedAt: now.Add(-3 * time.Hour), Counts: model.RunCounts{Accepted: 2}},
		{Source: "escreen", Status: model.RunStatusFailed, StartedAt: now.Add(-2 * time.Hour), Counts: model.RunCounts{Rejected: 3, CreatedSites: 1}},
		{Source: "i3screen", Status: model.RunStatusRunning, StartedAt: now.Add(-10 * time.Minute)},
		{Source: "crl", Status: model.RunStatusComplete, StartedAt: now.Add(-48 * time.Hour), Counts: model.RunCounts{Accepted: 100}},
	}
	c := NewCollector(stubRuns{runs: runs})
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 1e-9)
	assert.Equal(t, 7, snap.Accepted)
	assert.Equal(t, 3, snap.Rejected)
	assert.Equal(t, 1, snap.Staged)
	assert.Equal(t, 1, snap.CreatedSites)
	assert.Equal(t, now.Add(-time.Hour), snap.LastSuccess["crl"])
	_, ok := snap.LastSuccess["escreen"]
	assert.False(t, ok)
}

func TestCollector_Error(t *testing.T) {
	c := NewCollector(stubRuns{err: errors.New("db down")})
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: list runs")
}
