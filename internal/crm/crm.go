// Package crm abstracts the case-management platform that receives results.
package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/screening-sync/internal/model"
)

// Client is the backend-neutral CRM contract.
type Client interface {
	// CreateResults submits records in bulk. Statuses are order-aligned with
	// recs. When err is non-nil, statuses may still cover a prefix of recs
	// that the CRM already answered for.
	CreateResults(ctx context.Context, recs []ResultRecord) ([]RowStatus, error)
	// CreateSites creates collection sites. Same alignment as CreateResults.
	CreateSites(ctx context.Context, sites []SiteRecord) ([]RowStatus, error)
	// ListSubmittedIDs returns the external id of every result in the CRM.
	ListSubmittedIDs(ctx context.Context) ([]string, error)
}

// ResultRecord is a canonical record with its references resolved to remote
// ids. A blank remote id means the reference could not be resolved.
type ResultRecord struct {
	model.Record
	AccountID string
	SiteID    string
	LabID     string
}

// SiteRecord is a collection site to create.
type SiteRecord struct {
	SiteID string
	Name   string
}

// RowStatus is the CRM's verdict on one submitted row.
type RowStatus struct {
	OK       bool   `json:"ok"`
	RemoteID string `json:"remote_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Rejection returns the row's failure as an ErrRemoteRejection, or nil.
func (s RowStatus) Rejection() error {
	if s.OK {
		return nil
	}
	return fmt.Errorf("%w: %s %s", model.ErrRemoteRejection, s.Code, s.Message)
}

// resultField pairs a canonical field with its CRM API name.
type resultField struct {
	field model.Field
	api   string
}

// resultFields are the scalar fields sent for a result. Lookups (account,
// site, laboratory) are added by each backend.
var resultFields = []resultField{
	{model.FieldFirstName, "First_Name"},
	{model.FieldLastName, "Last_Name"},
	{model.FieldSecondaryID, "Primary_ID"},
	{model.FieldCollectionDate, "Collection_Date"},
	{model.FieldResultReceivedDate, "MRO_Received"},
	{model.FieldReason, "Test_Reason"},
	{model.FieldResult, "Test_Result"},
	{model.FieldPositiveAnalytes, "Positive_For"},
	{model.FieldTestType, "Test_Type"},
	{model.FieldRegulationStatus, "Regulation"},
	{model.FieldRegulatoryAgency, "Regulation_Body"},
	{model.FieldMeasuredValue, "BAT_Value"},
	{model.FieldLocationCode, "Location"},
}

// payload builds the field map for rec. Blank values are omitted so the CRM
// leaves them unset. suffix is appended to custom field names.
func payload(rec *ResultRecord, suffix string) map[string]any {
	out := map[string]any{"Name": rec.ExternalID}
	for _, f := range resultFields {
		if v := rec.Value(f.field); v != "" {
			out[f.api+suffix] = v
		}
	}
	return out
}

// authError marks err as model.ErrAuth when backendAuth is in its chain.
func authError(err, backendAuth error) error {
	if err == nil || !errors.Is(err, backendAuth) || errors.Is(err, model.ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrAuth, err)
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
