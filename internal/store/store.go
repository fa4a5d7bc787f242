// Package store persists submission, staging, reference-entity and run state.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-sync/internal/model"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Source string          `json:"source,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the pipeline. Every failure of
// the underlying database is reported as model.ErrPersistence.
type Store interface {
	// Submitted set. Append-only.
	SubmittedIDs(ctx context.Context) (model.IDSet, error)
	IsSubmitted(ctx context.Context, externalID string) (bool, error)
	// RecordSubmissions inserts ids not yet recorded and, in the same
	// transaction, marks matching unreviewed staged records reviewed.
	// It returns the number of newly recorded ids.
	RecordSubmissions(ctx context.Context, ids []string, at time.Time) (int, error)

	// Staging.
	StagedIDs(ctx context.Context) (model.IDSet, error)
	StageRecords(ctx context.Context, recs []model.Record) (int, error)
	GetStaged(ctx context.Context, externalID string) (*model.StagedRecord, error)
	ListStaged(ctx context.Context, includeReviewed bool) ([]model.StagedRecord, error)
	UpdateStaged(ctx context.Context, rec model.Record) error
	MarkReviewed(ctx context.Context, externalID string, at time.Time) error

	// Reference entities. Inserts never overwrite an existing key.
	Sites(ctx context.Context) ([]model.Site, error)
	InsertSites(ctx context.Context, sites []model.Site) (int, error)
	Accounts(ctx context.Context) ([]model.Account, error)
	PutAccounts(ctx context.Context, accounts []model.Account) (int, error)
	Labs(ctx context.Context) ([]model.Lab, error)
	PutLabs(ctx context.Context, labs []model.Lab) (int, error)

	// Run log.
	StartRun(ctx context.Context, source string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error
	FailRun(ctx context.Context, runID string, counts model.RunCounts, cause error) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle.
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// persistErr annotates a database failure and marks it ErrPersistence.
func persistErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", model.ErrPersistence, eris.Wrap(err, msg))
}

func persistErrf(err error, format string, args ...any) error {
	return persistErr(err, fmt.Sprintf(format, args...))
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

// joinAnalytes and splitAnalytes store the analyte set as one text column.
func joinAnalytes(a []string) string { return strings.Join(a, ", ") }

func splitAnalytes(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stagedColumns is the column order shared by every staged_records
// insert and select.
var stagedColumns = []string{
	"external_id", "first_name", "last_name", "secondary_id", "company_name", "company_code",
	"collection_date", "result_received_date", "reason", "result", "positive_analytes",
	"test_type", "regulation_status", "regulatory_agency", "measured_value", "laboratory",
	"collection_site_name", "collection_site_id", "location_code",
}

// stagedValues returns rec's values in stagedColumns order.
func stagedValues(rec *model.Record) []any {
	return []any{
		rec.ExternalID, rec.FirstName, rec.LastName, rec.SecondaryID, rec.CompanyName, rec.CompanyCode,
		rec.CollectionDate, rec.ResultReceivedDate, rec.Reason, rec.Result, joinAnalytes(rec.PositiveAnalytes),
		rec.TestType, rec.RegulationStatus, rec.RegulatoryAgency, measuredText(rec), rec.Laboratory,
		rec.CollectionSiteName, rec.CollectionSiteID, rec.LocationCode,
	}
}

func measuredText(rec *model.Record) *string {
	if !rec.MeasuredValue.Valid {
		return nil
	}
	s := rec.MeasuredValue.Decimal.String()
	return &s
}

type scannable interface {
	Scan(dest ...any) error
}

// scanStaged reads stagedColumns followed by reviewed, reviewed_at, staged_at.
func scanStaged(row scannable) (*model.StagedRecord, error) {
	var (
		sr       model.StagedRecord
		analytes string
		measured *string
	)
	r := &sr.Record
	err := row.Scan(
		&r.ExternalID, &r.FirstName, &r.LastName, &r.SecondaryID, &r.CompanyName, &r.CompanyCode,
		&r.CollectionDate, &r.ResultReceivedDate, &r.Reason, &r.Result, &analytes,
		&r.TestType, &r.RegulationStatus, &r.RegulatoryAgency, &measured, &r.Laboratory,
		&r.CollectionSiteName, &r.CollectionSiteID, &r.LocationCode,
		&sr.Reviewed, &sr.ReviewedAt, &sr.StagedAt,
	)
	if err != nil {
		return nil, err
	}
	r.PositiveAnalytes = splitAnalytes(analytes)
	if measured != nil {
		if err := r.MeasuredValue.Scan(*measured); err != nil {
			return nil, eris.Wrapf(err, "store: parse measured value for %s", r.ExternalID)
		}
	}
	return &sr, nil
}

func runError(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}
