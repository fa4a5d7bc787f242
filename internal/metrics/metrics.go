// Package metrics exposes pipeline counters to Prometheus and summarizes the
// run log for the status endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/screening-sync/internal/model"
)

// Record outcomes.
const (
	OutcomeDeduplicated = "deduplicated"
	OutcomeComplete     = "complete"
	OutcomeIncomplete   = "incomplete"
	OutcomeStaged       = "staged"
	OutcomeAccepted     = "accepted"
	OutcomeRejected     = "rejected"
)

// Recorder owns the pipeline's Prometheus collectors.
type Recorder struct {
	gatherer     prometheus.Gatherer
	records      *prometheus.CounterVec
	sitesCreated prometheus.Counter
	runs         *prometheus.CounterVec
}

// New registers the pipeline collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		gatherer: reg,
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screening_sync_records_total",
			Help: "Records processed per source by outcome.",
		}, []string{"source", "outcome"}),
		sitesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screening_sync_sites_created_total",
			Help: "Collection sites created in the CRM.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screening_sync_runs_total",
			Help: "Pipeline runs per source by final status.",
		}, []string{"source", "status"}),
	}
	reg.MustRegister(r.records, r.sitesCreated, r.runs)
	return r
}

// ObserveRun adds one run's counts and counts the run under its final
// status. A nil Recorder is a no-op.
func (r *Recorder) ObserveRun(source string, status model.RunStatus, c model.RunCounts) {
	if r == nil {
		return
	}
	r.addRecords(source, OutcomeDeduplicated, c.Deduplicated)
	r.addRecords(source, OutcomeComplete, c.Complete)
	r.addRecords(source, OutcomeIncomplete, c.Incomplete)
	r.addRecords(source, OutcomeStaged, c.Staged)
	r.addRecords(source, OutcomeAccepted, c.Accepted)
	r.addRecords(source, OutcomeRejected, c.Rejected)
	r.addSites(c.CreatedSites)
	r.runs.WithLabelValues(source, string(status)).Inc()
}

// ObserveSubmission counts accepted and rejected rows from a review action.
// Review actions are not runs and leave screening_sync_runs_total alone.
func (r *Recorder) ObserveSubmission(source string, accepted, rejected, createdSites int) {
	if r == nil {
		return
	}
	r.addRecords(source, OutcomeAccepted, accepted)
	r.addRecords(source, OutcomeRejected, rejected)
	r.addSites(createdSites)
}

func (r *Recorder) addRecords(source, outcome string, n int) {
	if n > 0 {
		r.records.WithLabelValues(source, outcome).Add(float64(n))
	}
}

func (r *Recorder) addSites(n int) {
	if n > 0 {
		r.sitesCreated.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
