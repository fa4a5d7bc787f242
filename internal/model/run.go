package model

import "time"

// RunStatus represents the state of one pipeline run for a source.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunCounts are the per-run tallies logged and persisted for every source run.
type RunCounts struct {
	Normalized    int `json:"normalized"`
	Deduplicated  int `json:"deduplicated"`
	Duplicates    int `json:"duplicates"`
	AlreadySent   int `json:"already_sent"`
	Complete      int `json:"complete"`
	Incomplete    int `json:"incomplete"`
	Staged        int `json:"staged"`
	Accepted      int `json:"accepted"`
	Rejected      int `json:"rejected"`
	CreatedSites  int `json:"created_sites"`
	RejectedSites int `json:"rejected_sites"`
}

// Run is one recorded pipeline execution.
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      RunStatus  `json:"status"`
	Counts      RunCounts  `json:"counts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
