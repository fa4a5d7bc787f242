// Package review serves the manual-review worklist: staged records can be
// listed, edited, and resubmitted through the same submission path the
// pipeline uses.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/screening-sync/internal/metrics"
	"github.com/sells-group/screening-sync/internal/model"
	"github.com/sells-group/screening-sync/internal/reconcile"
	"github.com/sells-group/screening-sync/internal/refsync"
	"github.com/sells-group/screening-sync/internal/submit"
)

// metricsSource labels review submissions in the records counter.
const metricsSource = "review"

// Store is the staging surface the worklist reads and writes.
type Store interface {
	ListStaged(ctx context.Context, includeReviewed bool) ([]model.StagedRecord, error)
	GetStaged(ctx context.Context, externalID string) (*model.StagedRecord, error)
	UpdateStaged(ctx context.Context, rec model.Record) error
	MarkReviewed(ctx context.Context, externalID string, at time.Time) error
	IsSubmitted(ctx context.Context, externalID string) (bool, error)
	Sites(ctx context.Context) ([]model.Site, error)
}

// SiteSyncer creates missing collection sites.
type SiteSyncer interface {
	Sync(ctx context.Context, batch []model.Site) (*refsync.Result, error)
}

// Submitter submits records to the CRM.
type Submitter interface {
	Submit(ctx context.Context, recs []model.Record, sites map[string]string) (*submit.Outcome, error)
}

// Server handles the worklist endpoints.
type Server struct {
	store     Store
	sites     SiteSyncer
	submitter Submitter
	rules     reconcile.Rules
	metrics   *metrics.Recorder
	now       func() time.Time
}

// New creates a review Server. rec may be nil.
func New(st Store, sites SiteSyncer, sub Submitter, rules reconcile.Rules, rec *metrics.Recorder) *Server {
	return &Server{store: st, sites: sites, submitter: sub, rules: rules, metrics: rec, now: time.Now}
}

// Item is a staged record annotated with the fields still blocking submission.
type Item struct {
	model.StagedRecord
	Missing []model.Field `json:"missing"`
}

// Routes mounts the worklist on a chi router with CORS enabled.
func (s *Server) Routes(allowedOrigins []string) chi.Router {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/worklist", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/resubmit", s.handleResubmitAll)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}", s.handleEdit)
	})
	return r
}

func (s *Server) item(rec model.StagedRecord) Item {
	missing := reconcile.Missing(&rec.Record, s.rules)
	if missing == nil {
		missing = []model.Field{}
	}
	return Item{StagedRecord: rec, Missing: missing}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListStaged(r.Context(), r.URL.Query().Get("all") == "true")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}
	items := make([]Item, len(recs))
	for i := range recs {
		items[i] = s.item(recs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": items, "count": len(items)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sites, err := s.store.Sites(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": s.item(*rec), "sites": sites})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.StagedRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetStaged(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return nil, false
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "staged record not found: " + id})
		return nil, false
	}
	return rec, true
}

// handleEdit saves the edits first so a failed submission never loses them,
// then submits the record if it is now complete.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	staged, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if staged.Reviewed {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "record already reviewed", "record": s.item(*staged)})
		return
	}

	edited := staged.Record
	if err := json.NewDecoder(r.Body).Decode(&edited); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	edited.ExternalID = staged.ExternalID

	if err := s.store.UpdateStaged(ctx, edited); err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}
	staged.Record = edited
	log := zap.L().With(zap.String("external_id", edited.ExternalID))

	if missing := reconcile.Missing(&edited, s.rules); len(missing) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "record is incomplete",
			"record": s.item(*staged),
		})
		return
	}

	submitted, err := s.store.IsSubmitted(ctx, edited.ExternalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}
	if submitted {
		if err := s.store.MarkReviewed(ctx, edited.ExternalID, s.now().UTC()); err != nil {
			writeError(w, http.StatusInternalServerError, err, nil)
			return
		}
		writeJSON(w, http.StatusConflict, map[string]any{"error": "record was already submitted", "record": s.item(*staged)})
		return
	}

	out, created, err := s.submit(ctx, []model.Record{edited})
	if err != nil {
		log.Error("review: resubmission failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err, map[string]any{"record": s.item(*staged)})
		return
	}
	if len(out.Rejected) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  out.Rejected[0].Reason,
			"record": s.item(*staged),
		})
		return
	}

	log.Info("review: record accepted", zap.Int("created_sites", created))
	updated, err := s.store.GetStaged(ctx, edited.ExternalID)
	if err != nil || updated == nil {
		updated = staged
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "record": s.item(*updated)})
}

// resubmitResponse summarizes a bulk resubmission.
type resubmitResponse struct {
	Attempted       int                `json:"attempted"`
	Accepted        []string           `json:"accepted"`
	Rejected        []submit.Rejection `json:"rejected"`
	StillIncomplete int                `json:"still_incomplete"`
	AlreadySent     int                `json:"already_sent"`
	CreatedSites    int                `json:"created_sites"`
	Error           string             `json:"error,omitempty"`
}

func (s *Server) handleResubmitAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	staged, err := s.store.ListStaged(ctx, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}

	resp := resubmitResponse{Accepted: []string{}, Rejected: []submit.Rejection{}}
	var ready []model.Record
	for i := range staged {
		rec := staged[i].Record
		if !reconcile.IsComplete(&rec, s.rules) {
			resp.StillIncomplete++
			continue
		}
		sent, err := s.store.IsSubmitted(ctx, rec.ExternalID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err, nil)
			return
		}
		if sent {
			resp.AlreadySent++
			if err := s.store.MarkReviewed(ctx, rec.ExternalID, s.now().UTC()); err != nil {
				writeError(w, http.StatusInternalServerError, err, nil)
				return
			}
			continue
		}
		ready = append(ready, rec)
	}
	resp.Attempted = len(ready)

	out, created, err := s.submit(ctx, ready)
	resp.CreatedSites = created
	if out != nil {
		resp.Accepted = append(resp.Accepted, out.Accepted...)
		resp.Rejected = append(resp.Rejected, out.Rejected...)
	}
	if err != nil {
		zap.L().Error("review: bulk resubmission failed", zap.Error(err))
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	zap.L().Info("review: bulk resubmission complete",
		zap.Int("attempted", resp.Attempted),
		zap.Int("accepted", len(resp.Accepted)),
		zap.Int("rejected", len(resp.Rejected)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// submit syncs the records' sites and submits them. Sites the CRM refused
// are sent blank.
func (s *Server) submit(ctx context.Context, recs []model.Record) (*submit.Outcome, int, error) {
	if len(recs) == 0 {
		return &submit.Outcome{}, 0, nil
	}
	synced, err := s.sites.Sync(ctx, refsync.SitesOf(recs))
	created := 0
	if synced != nil {
		created = synced.Created
	}
	switch {
	case errors.Is(err, model.ErrRemoteRejection):
		zap.L().Warn("review: submitting with unresolved collection sites", zap.Error(err))
	case err != nil:
		s.metrics.ObserveSubmission(metricsSource, 0, 0, created)
		return nil, created, err
	}

	out, err := s.submitter.Submit(ctx, recs, synced.RemoteIDs)
	if out != nil {
		s.metrics.ObserveSubmission(metricsSource, len(out.Accepted), len(out.Rejected), created)
	}
	return out, created, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("review: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error, extra map[string]any) {
	body := map[string]any{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	if errors.Is(err, model.ErrAuth) {
		body["code"] = "auth"
	}
	writeJSON(w, status, body)
}
