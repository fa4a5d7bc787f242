// Package crmtest provides an in-memory crm.Client for tests.
package crmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-sync/internal/crm"
)

// Fake records every call and accepts rows unless told otherwise.
type Fake struct {
	mu sync.Mutex

	// RejectResults maps external ids to the rejection message returned for them.
	RejectResults map[string]string
	// RejectSites lists site ids the CRM refuses to create.
	RejectSites map[string]bool
	// ResultsErr fails every CreateResults call.
	ResultsErr error
	// FailSiteCall fails the n-th CreateSites call (1-based); 0 never fails.
	FailSiteCall int
	// Remote holds the ids returned by ListSubmittedIDs.
	Remote []string

	Results   []crm.ResultRecord
	SiteCalls [][]crm.SiteRecord
	nextID    int
}

var _ crm.Client = (*Fake)(nil)

func (f *Fake) CreateResults(_ context.Context, recs []crm.ResultRecord) ([]crm.RowStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ResultsErr != nil {
		return nil, f.ResultsErr
	}
	out := make([]crm.RowStatus, len(recs))
	for i, r := range recs {
		if msg, ok := f.RejectResults[r.ExternalID]; ok {
			out[i] = crm.RowStatus{Code: "INVALID_DATA", Message: msg}
			continue
		}
		f.nextID++
		f.Results = append(f.Results, r)
		out[i] = crm.RowStatus{OK: true, RemoteID: fmt.Sprintf("res-%d", f.nextID)}
	}
	return out, nil
}

func (f *Fake) CreateSites(_ context.Context, sites []crm.SiteRecord) ([]crm.RowStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SiteCalls = append(f.SiteCalls, sites)
	if f.FailSiteCall == len(f.SiteCalls) {
		return nil, eris.New("crmtest: site create failed")
	}
	out := make([]crm.RowStatus, len(sites))
	for i, s := range sites {
		if f.RejectSites[s.SiteID] {
			out[i] = crm.RowStatus{Code: "DUPLICATE_DATA", Message: "duplicate site"}
			continue
		}
		f.nextID++
		out[i] = crm.RowStatus{OK: true, RemoteID: fmt.Sprintf("site-%d", f.nextID)}
	}
	return out, nil
}

func (f *Fake) ListSubmittedIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Remote...), nil
}

// Accepted returns the external ids of every accepted result.
func (f *Fake) Accepted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.Results))
	for i, r := range f.Results {
		ids[i] = r.ExternalID
	}
	return ids
}
