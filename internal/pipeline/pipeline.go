// Package pipeline runs one source export end to end: normalize, reconcile
// against persisted state, sync collection sites, submit complete records,
// and stage incomplete ones for review.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-sync/internal/crm"
	"github.com/sells-group/screening-sync/internal/dataset"
	"github.com/sells-group/screening-sync/internal/metrics"
	"github.com/sells-group/screening-sync/internal/model"
	"github.com/sells-group/screening-sync/internal/normalize"
	"github.com/sells-group/screening-sync/internal/reconcile"
	"github.com/sells-group/screening-sync/internal/refsync"
	"github.com/sells-group/screening-sync/internal/store"
	"github.com/sells-group/screening-sync/internal/submit"
)

// Input names a source profile and the export to read for it.
type Input struct {
	Source string
	Path   string
}

// Options configures a Pipeline.
type Options struct {
	// DryRun normalizes and reconciles without CRM calls or store writes.
	DryRun        bool
	SiteChunkSize int
	Rules         reconcile.Rules
	Metrics       *metrics.Recorder
}

// Pipeline wires the per-source stages together.
type Pipeline struct {
	store     store.Store
	crm       crm.Client
	norm      *normalize.Normalizer
	profiles  *normalize.Registry
	sites     *refsync.Syncer
	submitter *submit.Submitter
	opts      Options
}

// New creates a Pipeline. client may be nil in dry-run mode.
func New(st store.Store, client crm.Client, norm *normalize.Normalizer, profiles *normalize.Registry, opts Options) *Pipeline {
	return &Pipeline{
		store:     st,
		crm:       client,
		norm:      norm,
		profiles:  profiles,
		sites:     refsync.New(st, client, opts.SiteChunkSize),
		submitter: submit.New(st, client),
		opts:      opts,
	}
}

// Result is the outcome of one source run.
type Result struct {
	Source   string             `json:"source"`
	RunID    string             `json:"run_id,omitempty"`
	Counts   model.RunCounts    `json:"counts"`
	Rejected []submit.Rejection `json:"rejected,omitempty"`
	// RejectedSites are sites the CRM refused; rows that reference them are
	// submitted with a blank site.
	RejectedSites []refsync.Rejection `json:"rejected_sites,omitempty"`
	Staged        []model.Record      `json:"-"`
	Complete      []model.Record      `json:"-"`
	Status        model.RunStatus     `json:"status"`
	Error         string              `json:"error,omitempty"`
}

// RunAll refreshes the account snapshot once and runs every input in order.
// A failed source does not stop later ones; the returned error joins every
// source failure.
func (p *Pipeline) RunAll(ctx context.Context, inputs []Input) ([]*Result, error) {
	if err := p.RefreshAccounts(ctx); err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(inputs))
	var errs []error
	for _, in := range inputs {
		res, err := p.RunSource(ctx, in)
		results = append(results, res)
		if err != nil {
			errs = append(errs, eris.Wrapf(err, "pipeline: source %s", in.Source))
		}
	}
	return results, errors.Join(errs...)
}

// RefreshAccounts reloads the normalizer's account snapshot from the store.
func (p *Pipeline) RefreshAccounts(ctx context.Context) error {
	accounts, err := p.store.Accounts(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: load accounts")
	}
	p.norm.Refresh(accounts)
	zap.L().Debug("pipeline: account snapshot refreshed", zap.Int("accounts", len(accounts)))
	return nil
}

// RunSource processes one export. The returned Result is never nil.
func (p *Pipeline) RunSource(ctx context.Context, in Input) (*Result, error) {
	log := zap.L().With(zap.String("source", in.Source), zap.String("path", in.Path), zap.Bool("dry_run", p.opts.DryRun))
	res := &Result{Source: in.Source, Status: model.RunStatusRunning}

	var run *model.Run
	if !p.opts.DryRun {
		var err error
		run, err = p.store.StartRun(ctx, in.Source)
		if err != nil {
			return p.fail(ctx, log, res, nil, eris.Wrap(err, "pipeline: start run"))
		}
		res.RunID = run.ID
	}
	log.Info("pipeline: starting source run", zap.String("run_id", res.RunID))

	if err := p.process(ctx, log, in, res); err != nil {
		return p.fail(ctx, log, res, run, err)
	}

	res.Status = model.RunStatusComplete
	if run != nil {
		if err := p.store.CompleteRun(ctx, run.ID, res.Counts); err != nil {
			log.Warn("pipeline: failed to complete run", zap.Error(err))
		}
		p.opts.Metrics.ObserveRun(in.Source, res.Status, res.Counts)
	}
	logCounts(log.Info, "pipeline: source run complete", res.Counts)
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, log *zap.Logger, in Input, res *Result) error {
	profile, ok := p.profiles.Get(in.Source)
	if !ok {
		return eris.Errorf("pipeline: unknown source %q", in.Source)
	}

	var rows []model.Record
	err := trackPhase(log, "normalize", func() error {
		table, err := dataset.Load(in.Path, dataset.Options{HeaderMarkers: profile.HeaderMarkers})
		if err != nil {
			return err
		}
		rows, err = p.norm.Normalize(table, profile)
		return err
	})
	if err != nil {
		return err
	}
	res.Counts.Normalized = len(rows)

	var rec reconcile.Result
	err = trackPhase(log, "reconcile", func() error {
		submitted, err := p.store.SubmittedIDs(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline: load submitted ids")
		}
		staged, err := p.store.StagedIDs(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline: load staged ids")
		}
		rec = reconcile.Reconcile(rows, submitted, staged, p.opts.Rules)
		return nil
	})
	if err != nil {
		return err
	}
	res.Counts.AlreadySent = rec.AlreadySubmitted
	res.Counts.Duplicates = rec.Duplicates
	res.Counts.Deduplicated = rec.Deduplicated
	res.Counts.Complete = len(rec.Complete)
	res.Counts.Incomplete = len(rec.Incomplete)
	res.Complete = rec.Complete
	res.Staged = rec.NewStaged

	if p.opts.DryRun {
		res.Counts.Staged = len(rec.NewStaged)
		return nil
	}

	var siteIDs map[string]string
	err = trackPhase(log, "site_sync", func() error {
		batch := refsync.SitesOf(rec.Complete)
		batch = append(batch, refsync.SitesOf(rec.Incomplete)...)
		synced, err := p.sites.Sync(ctx, batch)
		if synced != nil {
			res.Counts.CreatedSites = synced.Created
			res.Counts.RejectedSites = len(synced.Rejected)
			res.RejectedSites = synced.Rejected
			siteIDs = synced.RemoteIDs
		}
		if errors.Is(err, model.ErrRemoteRejection) {
			log.Warn("pipeline: continuing with unresolved collection sites",
				zap.Int("rejected_sites", res.Counts.RejectedSites),
				zap.Error(err),
			)
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	err = trackPhase(log, "submit", func() error {
		out, err := p.submitter.Submit(ctx, rec.Complete, siteIDs)
		res.Counts.Accepted = len(out.Accepted)
		res.Counts.Rejected = len(out.Rejected)
		res.Rejected = out.Rejected
		return err
	})
	if err != nil {
		return err
	}

	return trackPhase(log, "stage", func() error {
		n, err := p.store.StageRecords(ctx, rec.NewStaged)
		if err != nil {
			return eris.Wrap(err, "pipeline: stage incomplete records")
		}
		res.Counts.Staged = n
		return nil
	})
}

func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, res *Result, run *model.Run, cause error) (*Result, error) {
	res.Status = model.RunStatusFailed
	res.Error = cause.Error()
	if run != nil {
		if err := p.store.FailRun(ctx, run.ID, res.Counts, cause); err != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(err))
		}
		p.opts.Metrics.ObserveRun(res.Source, res.Status, res.Counts)
	}
	logCounts(log.Error, "pipeline: source run failed", res.Counts, zap.Error(cause))
	return res, cause
}

// trackPhase times one stage and logs its outcome.
func trackPhase(log *zap.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", duration), zap.Error(err))
		return err
	}
	log.Debug("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", duration))
	return nil
}

func logCounts(logf func(string, ...zap.Field), msg string, c model.RunCounts, extra ...zap.Field) {
	fields := []zap.Field{
		zap.Int("normalized", c.Normalized),
		zap.Int("deduplicated", c.Deduplicated),
		zap.Int("duplicates", c.Duplicates),
		zap.Int("already_sent", c.AlreadySent),
		zap.Int("complete", c.Complete),
		zap.Int("incomplete", c.Incomplete),
		zap.Int("staged", c.Staged),
		zap.Int("accepted", c.Accepted),
		zap.Int("rejected", c.Rejected),
		zap.Int("created_sites", c.CreatedSites),
		zap.Int("rejected_sites", c.RejectedSites),
	}
	logf(msg, append(fields, extra...)...)
}
