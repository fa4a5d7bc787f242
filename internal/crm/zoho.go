package crm

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-sync/pkg/zoho"
)

// ZohoModules names the Zoho modules holding results and sites.
type ZohoModules struct {
	Results string
	Sites   string
}

// Zoho implements Client over the Zoho CRM REST API.
type Zoho struct {
	client  zoho.Client
	modules ZohoModules
}

// NewZoho creates a Zoho-backed Client.
func NewZoho(client zoho.Client, modules ZohoModules) *Zoho {
	return &Zoho{client: client, modules: modules}
}

func (z *Zoho) CreateResults(ctx context.Context, recs []ResultRecord) ([]RowStatus, error) {
	records := make([]zoho.Record, len(recs))
	for i := range recs {
		r := zoho.Record(payload(&recs[i], ""))
		if id := recs[i].AccountID; id != "" {
			r["Company"] = zoho.Lookup(id)
		}
		if id := recs[i].SiteID; id != "" {
			r["Collection_Site"] = zoho.Lookup(id)
		}
		if id := recs[i].LabID; id != "" {
			r["Laboratory"] = zoho.Lookup(id)
		}
		records[i] = r
	}
	return z.insert(ctx, z.modules.Results, records)
}

func (z *Zoho) CreateSites(ctx context.Context, sites []SiteRecord) ([]RowStatus, error) {
	records := make([]zoho.Record, len(sites))
	for i, s := range sites {
		records[i] = zoho.Record{"Name": s.Name, "Collection_Site_ID": s.SiteID}
	}
	return z.insert(ctx, z.modules.Sites, records)
}

func (z *Zoho) ListSubmittedIDs(ctx context.Context) ([]string, error) {
	recs, err := z.client.ListAll(ctx, z.modules.Results, []string{"Name"})
	if err != nil {
		return nil, authError(eris.Wrap(err, "crm: list submitted ids"), zoho.ErrAuth)
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		if name, ok := r["Name"]; ok && name != nil {
			if s := fmt.Sprint(name); s != "" {
				ids = append(ids, s)
			}
		}
	}
	return ids, nil
}

// insert sends records in Zoho-sized requests. Statuses gathered before a
// failing request are returned with the error.
func (z *Zoho) insert(ctx context.Context, module string, records []zoho.Record) ([]RowStatus, error) {
	statuses := make([]RowStatus, 0, len(records))
	for _, chunk := range chunks(records, zoho.MaxRecordsPerInsert) {
		rows, err := z.client.Insert(ctx, module, chunk)
		if err != nil {
			return statuses, authError(eris.Wrapf(err, "crm: insert %s", module), zoho.ErrAuth)
		}
		for _, r := range rows {
			statuses = append(statuses, RowStatus{
				OK:       r.Success(),
				RemoteID: zoho.StripRecordPrefix(string(r.Details.ID)),
				Code:     r.Code,
				Message:  rowMessage(r),
			})
		}
	}
	return statuses, nil
}

func rowMessage(r zoho.RowResult) string {
	if r.Details.APIName != "" && !r.Success() {
		return r.Message + " (" + r.Details.APIName + ")"
	}
	return r.Message
}
