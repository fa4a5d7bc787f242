package crm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-sync/pkg/salesforce"
)

// SalesforceObjects names the custom objects holding results and sites.
type SalesforceObjects struct {
	Results string
	Sites   string
}

// Salesforce implements Client over the Salesforce REST API. Custom fields
// carry the __c suffix.
type Salesforce struct {
	client  salesforce.Client
	objects SalesforceObjects
}

// NewSalesforce creates a Salesforce-backed Client.
func NewSalesforce(client salesforce.Client, objects SalesforceObjects) *Salesforce {
	return &Salesforce{client: client, objects: objects}
}

func (s *Salesforce) CreateResults(ctx context.Context, recs []ResultRecord) ([]RowStatus, error) {
	records := make([]map[string]any, len(recs))
	for i := range recs {
		r := payload(&recs[i], "__c")
		if id := recs[i].AccountID; id != "" {
			r["Company__c"] = id
		}
		if id := recs[i].SiteID; id != "" {
			r["Collection_Site__c"] = id
		}
		if id := recs[i].LabID; id != "" {
			r["Laboratory__c"] = id
		}
		records[i] = r
	}
	return s.insert(ctx, s.objects.Results, records)
}

func (s *Salesforce) CreateSites(ctx context.Context, sites []SiteRecord) ([]RowStatus, error) {
	records := make([]map[string]any, len(sites))
	for i, site := range sites {
		records[i] = map[string]any{"Name": site.Name, "Collection_Site_ID__c": site.SiteID}
	}
	return s.insert(ctx, s.objects.Sites, records)
}

func (s *Salesforce) ListSubmittedIDs(ctx context.Context) ([]string, error) {
	var rows []struct {
		Name string `json:"Name"`
	}
	if err := s.client.Query(ctx, "SELECT Name FROM "+s.objects.Results, &rows); err != nil {
		return nil, eris.Wrap(err, "crm: list submitted ids")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Name != "" {
			ids = append(ids, r.Name)
		}
	}
	return ids, nil
}

func (s *Salesforce) insert(ctx context.Context, object string, records []map[string]any) ([]RowStatus, error) {
	statuses := make([]RowStatus, 0, len(records))
	for _, chunk := range chunks(records, salesforce.MaxCollectionSize) {
		results, err := s.client.InsertCollection(ctx, object, chunk)
		if err != nil {
			return statuses, eris.Wrapf(err, "crm: insert %s", object)
		}
		if len(results) != len(chunk) {
			return statuses, eris.Errorf("crm: insert %s: got %d results for %d records", object, len(results), len(chunk))
		}
		for _, r := range results {
			statuses = append(statuses, RowStatus{
				OK:       r.Success,
				RemoteID: r.ID,
				Message:  strings.Join(r.Errors, "; "),
			})
		}
	}
	return statuses, nil
}
