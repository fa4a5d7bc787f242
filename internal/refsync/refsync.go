// Package refsync makes sure every collection site referenced by a batch
// exists in the CRM before results that point at it are submitted.
package refsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-sync/internal/crm"
	"github.com/sells-group/screening-sync/internal/model"
)

// DefaultChunkSize is the largest site-creation request sent to the CRM.
const DefaultChunkSize = 100

// SiteStore is the slice of the persisted store that site sync needs.
type SiteStore interface {
	Sites(ctx context.Context) ([]model.Site, error)
	InsertSites(ctx context.Context, sites []model.Site) (int, error)
}

// Result is the outcome of a sync.
type Result struct {
	// RemoteIDs maps every known site id (cached and created) to its CRM id.
	RemoteIDs map[string]string
	Created   int
	// Rejected lists the sites the CRM refused to create.
	Rejected []Rejection
}

// Rejection is one site the CRM answered with a non-success status.
type Rejection struct {
	SiteID  string `json:"site_id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Syncer creates missing collection sites in the CRM and caches their ids.
type Syncer struct {
	store     SiteStore
	crm       crm.Client
	chunkSize int
}

// New creates a Syncer. A chunkSize outside 1..100 uses DefaultChunkSize.
func New(store SiteStore, client crm.Client, chunkSize int) *Syncer {
	if chunkSize <= 0 || chunkSize > DefaultChunkSize {
		chunkSize = DefaultChunkSize
	}
	return &Syncer{store: store, crm: client, chunkSize: chunkSize}
}

// Sync creates the sites in batch that are not cached yet, chunk by chunk.
// Every site the CRM created is cached before Sync returns, including those
// from a chunk in which other rows were rejected.
//
// A failed create call stops the sync with an error wrapping
// model.ErrPartialBatch; chunks before it stay persisted. Rows rejected
// individually do not stop it: after all chunks, Sync returns an error
// wrapping both model.ErrPartialBatch and model.ErrRemoteRejection, and the
// rejected sites are listed in Result.Rejected.
func (s *Syncer) Sync(ctx context.Context, batch []model.Site) (*Result, error) {
	cached, err := s.store.Sites(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "refsync: load cached sites")
	}

	res := &Result{RemoteIDs: make(map[string]string, len(cached))}
	for _, site := range cached {
		res.RemoteIDs[site.SiteID] = site.RemoteID
	}

	missing := Missing(batch, res.RemoteIDs)
	if len(missing) == 0 {
		return res, nil
	}

	for start := 0; start < len(missing); start += s.chunkSize {
		end := min(start+s.chunkSize, len(missing))
		chunk := missing[start:end]

		created, rejected, err := s.createChunk(ctx, chunk)
		if err != nil {
			zap.L().Error("refsync: site chunk failed",
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Int("created_before_failure", res.Created),
				zap.Error(err),
			)
			return res, fmt.Errorf("%w: %w", model.ErrPartialBatch, eris.Wrapf(err, "refsync: sites %d-%d", start, end))
		}

		if len(created) > 0 {
			if _, err := s.store.InsertSites(ctx, created); err != nil {
				return res, eris.Wrapf(err, "refsync: persist sites %d-%d", start, end)
			}
			for _, site := range created {
				res.RemoteIDs[site.SiteID] = site.RemoteID
			}
			res.Created += len(created)
		}
		res.Rejected = append(res.Rejected, rejected...)
	}

	zap.L().Info("refsync: created collection sites",
		zap.Int("created", res.Created),
		zap.Int("rejected", len(res.Rejected)),
	)
	if len(res.Rejected) > 0 {
		return res, fmt.Errorf("%w: %w: %w", model.ErrPartialBatch, model.ErrRemoteRejection, rejectionError(res.Rejected, len(missing)))
	}
	return res, nil
}

// createChunk sends one create call. A call error or a status count that does
// not line up with the request fails the whole chunk; otherwise the chunk is
// split into created and rejected sites.
func (s *Syncer) createChunk(ctx context.Context, chunk []model.Site) ([]model.Site, []Rejection, error) {
	req := make([]crm.SiteRecord, len(chunk))
	for i, site := range chunk {
		req[i] = crm.SiteRecord{SiteID: site.SiteID, Name: site.Name}
	}

	statuses, err := s.crm.CreateSites(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if len(statuses) != len(chunk) {
		return nil, nil, eris.Errorf("got %d statuses for %d sites", len(statuses), len(chunk))
	}

	var (
		created  = make([]model.Site, 0, len(chunk))
		rejected []Rejection
	)
	for i, st := range statuses {
		if !st.OK || st.RemoteID == "" {
			rj := Rejection{SiteID: chunk[i].SiteID, Code: st.Code, Message: st.Message}
			zap.L().Warn("refsync: site rejected",
				zap.String("site_id", rj.SiteID),
				zap.String("code", rj.Code),
				zap.String("message", rj.Message),
			)
			rejected = append(rejected, rj)
			continue
		}
		site := chunk[i]
		site.RemoteID = st.RemoteID
		created = append(created, site)
	}
	return created, rejected, nil
}

func rejectionError(rejected []Rejection, total int) error {
	parts := make([]string, len(rejected))
	for i, rj := range rejected {
		parts[i] = strings.TrimSpace(fmt.Sprintf("%s: %s %s", rj.SiteID, rj.Code, rj.Message))
	}
	return eris.Errorf("refsync: %d of %d sites rejected: %s", len(rejected), total, strings.Join(parts, "; "))
}

// Missing returns the distinct sites in batch with a non-blank id that are
// absent from known, in first-seen order.
func Missing(batch []model.Site, known map[string]string) []model.Site {
	seen := make(map[string]bool, len(batch))
	var out []model.Site
	for _, site := range batch {
		id := strings.TrimSpace(site.SiteID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := known[id]; ok {
			continue
		}
		out = append(out, model.Site{SiteID: id, Name: strings.TrimSpace(site.Name)})
	}
	return out
}

// SitesOf collects the (site id, site name) pairs referenced by recs.
func SitesOf(recs []model.Record) []model.Site {
	out := make([]model.Site, 0, len(recs))
	for i := range recs {
		if recs[i].CollectionSiteID != "" {
			out = append(out, model.Site{SiteID: recs[i].CollectionSiteID, Name: recs[i].CollectionSiteName})
		}
	}
	return out
}
