package metrics

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-sync/internal/model"
	"github.com/sells-group/screening-sync/internal/store"
)

// Snapshot is a point-in-time view of recent pipeline runs.
type Snapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	Staged       int `json:"staged"`
	CreatedSites int `json:"created_sites"`

	// LastSuccess is the most recent completed run per source.
	LastSuccess map[string]time.Time `json:"last_success,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store method the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector summarizes the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a run-log collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect summarizes runs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		LastSuccess:   make(map[string]time.Time),
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "metrics: list runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			if r.StartedAt.After(snap.LastSuccess[r.Source]) {
				snap.LastSuccess[r.Source] = r.StartedAt
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		snap.Accepted += r.Counts.Accepted
		snap.Rejected += r.Counts.Rejected
		snap.Staged += r.Counts.Staged
		snap.CreatedSites += r.Counts.CreatedSites
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
