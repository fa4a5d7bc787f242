package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/screening-sync/internal/metrics"
	"github.com/sells-group/screening-sync/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Source:      "crl",
			Status:      model.RunStatusComplete,
			Counts:      model.RunCounts{Accepted: 12, Rejected: 1, Staged: 3},
			StartedAt:   now,
			CompletedAt: &done,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Source:    "escreen",
			Status:    model.RunStatusFailed,
			Error:     "schema mismatch: normalize: escreen: required columns not found: Donor Name",
			StartedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "2025-06-15 10:30")
	assert.Contains(t, out, "2m0s")
	assert.Contains(t, out, "escreen")
	assert.Contains(t, out, "...")
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, &metrics.Snapshot{
		LookbackHours: 24, RunsTotal: 4, RunsComplete: 3, RunsFailed: 1, FailRate: 0.25, Accepted: 40,
	})
	out := buf.String()
	assert.Contains(t, out, "24h")
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "40")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "short", truncateID("short"))
}
