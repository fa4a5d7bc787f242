// Package zoho provides a client for the Zoho CRM v2 REST API.
package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/screening-sync/internal/resilience"
)

// MaxRecordsPerInsert is the most records Zoho accepts in one insert call.
const MaxRecordsPerInsert = 100

// Client defines the Zoho CRM operations used by the pipeline.
type Client interface {
	// Insert creates records in module. The results are order-aligned with records.
	Insert(ctx context.Context, module string, records []Record) ([]RowResult, error)
	// ListAll pages through module and returns every record with the given fields.
	ListAll(ctx context.Context, module string, fields []string) ([]Record, error)
}

// Record is one Zoho record keyed by API field name.
type Record map[string]any

// Lookup builds a lookup field value referencing a record id.
func Lookup(id string) map[string]any {
	return map[string]any{"id": StripRecordPrefix(id)}
}

// StripRecordPrefix removes the zcrm_ prefix that some Zoho exports add to ids.
func StripRecordPrefix(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "zcrm_")
}

// RowResult is the per-record outcome of an insert.
type RowResult struct {
	Code    string     `json:"code"`
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Details RowDetails `json:"details"`
}

// Success reports whether Zoho accepted the row.
func (r RowResult) Success() bool { return strings.EqualFold(r.Status, "success") }

// RowDetails carries the created id on success and the offending field on failure.
type RowDetails struct {
	ID      flexString `json:"id"`
	APIName string     `json:"api_name"`
}

// flexString accepts either a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*f = flexString(b)
	return nil
}

type insertResponse struct {
	Data []RowResult `json:"data"`
}

type listResponse struct {
	Data []Record `json:"data"`
	Info struct {
		MoreRecords bool `json:"more_records"`
	} `json:"info"`
}

// Option configures the Zoho client.
type Option func(*httpClient)

// WithBaseURL sets the API base URL (for testing or regional data centers).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithPerPage sets the page size for ListAll (max 200).
func WithPerPage(n int) Option {
	return func(c *httpClient) {
		if n > 0 && n <= 200 {
			c.perPage = n
		}
	}
}

// WithReadPolicy overrides the retry policy for paginated reads.
func WithReadPolicy(p resilience.Policy) Option {
	return func(c *httpClient) { c.readPolicy = p }
}

type httpClient struct {
	tokens     TokenSource
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	perPage    int
	readPolicy resilience.Policy
}

// NewClient creates a Zoho CRM client authenticating through tokens.
func NewClient(tokens TokenSource, opts ...Option) Client {
	c := &httpClient{
		tokens:  tokens,
		baseURL: "https://www.zohoapis.com",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:    rate.NewLimiter(rate.Limit(2), 1),
		perPage:    200,
		readPolicy: resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.readPolicy.OnRetry = resilience.LogRetries("zoho", "list")
	return c
}

// Insert is never retried on failure: a lost response would otherwise create
// duplicates.
func (c *httpClient) Insert(ctx context.Context, module string, records []Record) ([]RowResult, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if len(records) > MaxRecordsPerInsert {
		return nil, eris.Errorf("zoho: insert %s: %d records exceeds limit of %d", module, len(records), MaxRecordsPerInsert)
	}

	body, err := json.Marshal(map[string]any{"data": records})
	if err != nil {
		return nil, eris.Wrap(err, "zoho: marshal insert")
	}

	respBody, err := c.do(ctx, http.MethodPost, c.moduleURL(module, nil), body)
	if err != nil {
		// A batch where every row fails comes back as a 400 that still
		// carries the per-row results.
		if rows, ok := decodeRows(respBody, len(records)); ok {
			return rows, nil
		}
		return nil, eris.Wrapf(err, "zoho: insert %s", module)
	}

	rows, ok := decodeRows(respBody, len(records))
	if !ok {
		return nil, eris.Errorf("zoho: insert %s: response does not align with %d records", module, len(records))
	}
	return rows, nil
}

func decodeRows(body []byte, want int) ([]RowResult, bool) {
	if len(body) == 0 {
		return nil, false
	}
	var out insertResponse
	if err := json.Unmarshal(body, &out); err != nil || len(out.Data) != want {
		return nil, false
	}
	return out.Data, true
}

func (c *httpClient) ListAll(ctx context.Context, module string, fields []string) ([]Record, error) {
	var all []Record
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.perPage))
		if len(fields) > 0 {
			q.Set("fields", strings.Join(fields, ","))
		}
		target := c.moduleURL(module, q)

		resp, err := resilience.Do(ctx, c.readPolicy, func(ctx context.Context) (*listResponse, error) {
			body, err := c.do(ctx, http.MethodGet, target, nil)
			if err != nil {
				return nil, err
			}
			var lr listResponse
			if len(body) == 0 {
				return &lr, nil
			}
			if err := json.Unmarshal(body, &lr); err != nil {
				return nil, eris.Wrap(err, "zoho: decode list")
			}
			return &lr, nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "zoho: list %s page %d", module, page)
		}

		all = append(all, resp.Data...)
		if len(resp.Data) < c.perPage || !resp.Info.MoreRecords {
			break
		}
	}

	zap.L().Debug("zoho: listed records", zap.String("module", module), zap.Int("count", len(all)))
	return all, nil
}

func (c *httpClient) moduleURL(module string, q url.Values) string {
	u := c.baseURL + "/crm/v2/" + url.PathEscape(module)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do sends one authenticated request. A 401 invalidates the cached token and
// the request is repeated once with a fresh one.
func (c *httpClient) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "zoho: rate limiter")
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, eris.Wrap(err, "zoho: create request")
		}
		req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "zoho: http request")
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck
		if readErr != nil {
			return nil, eris.Wrap(readErr, "zoho: read response")
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			zap.L().Warn("zoho: token rejected, refreshing", zap.String("url", target))
			c.tokens.Invalidate()
			continue
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, eris.Wrapf(ErrAuth, "zoho: http 401: %s", string(respBody))
		case resp.StatusCode == http.StatusNoContent:
			return nil, nil
		case resp.StatusCode >= 300 && resp.StatusCode != http.StatusMultiStatus:
			return respBody, resilience.HTTPError("zoho", resp.StatusCode, respBody)
		}
		return respBody, nil
	}
}
