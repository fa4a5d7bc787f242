// Package submit pushes complete records to the CRM and records the ones it
// accepted so they are never sent again.
package submit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-sync/internal/crm"
	"github.com/sells-group/screening-sync/internal/model"
)

// Store is the slice of the persisted store the submitter needs.
type Store interface {
	Accounts(ctx context.Context) ([]model.Account, error)
	Labs(ctx context.Context) ([]model.Lab, error)
	Sites(ctx context.Context) ([]model.Site, error)
	RecordSubmissions(ctx context.Context, ids []string, at time.Time) (int, error)
}

// Rejection is a row the CRM refused.
type Rejection struct {
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// Outcome is the per-row result of one submission.
type Outcome struct {
	// Accepted lists the external ids the CRM created, in input order.
	Accepted []string
	Rejected []Rejection
	// Unanswered counts rows the CRM never reported on because the call failed.
	Unanswered int
	// Recorded is the number of accepted ids that were new to the store.
	Recorded int
}

// AcceptedSet returns Accepted as a set.
func (o *Outcome) AcceptedSet() model.IDSet {
	return model.NewIDSet(o.Accepted...)
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// Submitter resolves references and submits records in one bulk call.
type Submitter struct {
	store Store
	crm   crm.Client
	now   func() time.Time
}

// New creates a Submitter.
func New(store Store, client crm.Client, opts ...Option) *Submitter {
	s := &Submitter{store: store, crm: client, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit sends recs to the CRM. sites maps collection site ids to remote ids;
// when nil the cached sites are used. Accepted rows are recorded before
// Submit returns, including when the CRM call fails after answering for a
// prefix of the batch. Rejected rows are logged and left unrecorded.
func (s *Submitter) Submit(ctx context.Context, recs []model.Record, sites map[string]string) (*Outcome, error) {
	out := &Outcome{}
	if len(recs) == 0 {
		return out, nil
	}

	refs, err := s.loadRefs(ctx, sites)
	if err != nil {
		return out, err
	}

	req := make([]crm.ResultRecord, len(recs))
	for i := range recs {
		req[i] = refs.resolve(recs[i])
	}

	statuses, callErr := s.crm.CreateResults(ctx, req)
	if len(statuses) > len(recs) {
		statuses = statuses[:len(recs)]
	}

	for i, st := range statuses {
		id := recs[i].ExternalID
		if st.OK {
			out.Accepted = append(out.Accepted, id)
			continue
		}
		rej := st.Rejection()
		out.Rejected = append(out.Rejected, Rejection{ExternalID: id, Reason: st.Message, Err: rej})
		zap.L().Warn("submit: record rejected",
			zap.String("external_id", id),
			zap.String("code", st.Code),
			zap.String("message", st.Message),
		)
	}
	out.Unanswered = len(recs) - len(statuses)

	if len(out.Accepted) > 0 {
		n, err := s.store.RecordSubmissions(ctx, out.Accepted, s.now().UTC())
		if err != nil {
			return out, eris.Wrap(err, "submit: record accepted ids")
		}
		out.Recorded = n
	}

	if callErr != nil {
		return out, eris.Wrapf(callErr, "submit: create results (%d accepted before failure)", len(out.Accepted))
	}
	if out.Unanswered > 0 {
		return out, eris.Errorf("submit: crm answered for %d of %d records", len(statuses), len(recs))
	}
	return out, nil
}

// refs holds the remote id lookups for one submission.
type refs struct {
	accounts map[string]string
	labs     map[string]string
	sites    map[string]string
}

func (s *Submitter) loadRefs(ctx context.Context, sites map[string]string) (*refs, error) {
	r := &refs{sites: sites}

	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "submit: load accounts")
	}
	r.accounts = make(map[string]string, len(accounts))
	for _, a := range accounts {
		r.accounts[a.Code] = a.RemoteID
	}

	labs, err := s.store.Labs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "submit: load labs")
	}
	r.labs = make(map[string]string, len(labs))
	for _, l := range labs {
		r.labs[l.Name] = l.RemoteID
	}

	if r.sites == nil {
		cached, err := s.store.Sites(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "submit: load sites")
		}
		r.sites = make(map[string]string, len(cached))
		for _, site := range cached {
			r.sites[site.SiteID] = site.RemoteID
		}
	}
	return r, nil
}

// resolve attaches remote ids. Unknown references stay blank.
func (r *refs) resolve(rec model.Record) crm.ResultRecord {
	return crm.ResultRecord{
		Record:    rec,
		AccountID: r.accounts[rec.CompanyCode],
		SiteID:    r.sites[rec.CollectionSiteID],
		LabID:     r.labs[rec.Laboratory],
	}
}
