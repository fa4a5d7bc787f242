package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-sync/internal/resilience"
)

type stubTokens struct {
	tokens      []string
	calls       int
	invalidated int
	err         error
}

func (s *stubTokens) Token(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	i := s.calls
	if i >= len(s.tokens) {
		i = len(s.tokens) - 1
	}
	s.calls++
	return s.tokens[i], nil
}

func (s *stubTokens) Invalidate() { s.invalidated++ }

func newTestClient(t *testing.T, tokens TokenSource, h http.HandlerFunc, opts ...Option) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithRateLimit(1000),
		WithReadPolicy(resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	}, opts...)
	return NewClient(tokens, opts...)
}

func TestInsert_PerRowStatus(t *testing.T) {
	c := newTestClient(t, &stubTokens{tokens: []string{"tok"}}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v2/Drug_Tests", r.URL.Path)
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))

		var body struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Data, 2)
		assert.Equal(t, map[string]any{"id": "123"}, body.Data[0]["Company"])

		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(`{"data":[
			{"code":"SUCCESS","status":"success","message":"record added","details":{"id":"9001"}},
			{"code":"INVALID_DATA","status":"error","message":"invalid data","details":{"api_name":"Collection_Date"}}
		]}`)) //nolint:errcheck
	})

	rows, err := c.Insert(context.Background(), "Drug_Tests", []Record{
		{"Name": "A", "Company": Lookup("zcrm_123")},
		{"Name": "B"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Success())
	assert.Equal(t, "9001", string(rows[0].Details.ID))
	assert.False(t, rows[1].Success())
	assert.Equal(t, "Collection_Date", rows[1].Details.APIName)
}

func TestInsert_AllRowsFailedStillReturnsStatuses(t *testing.T) {
	c := newTestClient(t, &stubTokens{tokens: []string{"tok"}}, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"data":[{"code":"MANDATORY_NOT_FOUND","status":"error","message":"required field not found","details":{"api_name":"Name"}}]}`)) //nolint:errcheck
	})

	rows, err := c.Insert(context.Background(), "Drug_Tests", []Record{{"Last_Name": "Doe"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "MANDATORY_NOT_FOUND", rows[0].Code)
}

func TestInsert_NotRetried(t *testing.T) {
	var hits int32
	c := newTestClient(t, &stubTokens{tokens: []string{"tok"}}, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Insert(context.Background(), "Drug_Tests", []Record{{"Name": "A"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestInsert_TooManyRecords(t *testing.T) {
	c := newTestClient(t, &stubTokens{tokens: []string{"tok"}}, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})
	recs := make([]Record, MaxRecordsPerInsert+1)
	_, err := c.Insert(context.Background(), "Collection_Sites", recs)
	assert.Error(t, err)
}

func TestDo_UnauthorizedRefreshesOnce(t *testing.T) {
	tokens := &stubTokens{tokens: []string{"stale", "fresh"}}
	c := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Zoho-oauthtoken fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":"INVALID_TOKEN"}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"data":[{"code":"SUCCESS","status":"success","details":{"id":"1"}}]}`)) //nolint:errcheck
	})

	rows, err := c.Insert(context.Background(), "Drug_Tests", []Record{{"Name": "A"}})
	require.NoError(t, err)
	assert.True(t, rows[0].Success())
	assert.Equal(t, 1, tokens.invalidated)
}

func TestDo_UnauthorizedTwiceIsAuthError(t *testing.T) {
	tokens := &stubTokens{tokens: []string{"bad"}}
	c := newTestClient(t, tokens, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Insert(context.Background(), "Drug_Tests", []Record{{"Name": "A"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.Equal(t, 1, tokens.invalidated)
}

func TestDo_TokenFailure(t *testing.T) {
	tokens := &stubTokens{err: ErrAuth}
	c := newTestClient(t, tokens, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.ListAll(context.Background(), "Drug_Tests", []string{"Name"})
	assert.True(t, errors.Is(err, ErrAuth))
}

func TestListAll_Paginates(t *testing.T) {
	var pages []string
	c := newTestClient(t, &stubTokens{tokens: []string{"tok"}}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Name", r.URL.Query().Get("fields"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		page := r.URL.Query().Get("page")
		pages = append(pages, page)

		switch page {
		case "1":
			w.Write([]byte(`{"data":[{"Name":"A"},{"Name":"B"}],"info":{"more_records":true}}`)) //nolint:errcheck
		case "2":
			w.Write([]byte(`{"data":[{"Name":"C"}],"info":{"more_records":false}}`)) //nolint:errcheck
		default:
			t.Fatalf("unexpected page %s", page)
		}
	}, WithPerPage(2))

	recs, err := c.ListAll(context.Background(), "Drug_Tests", []string{"Name"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "C", recs[2]["Name"])
	assert.Equal(t, []string{"1", "2"}, pages)
}

func TestListAll_EmptyModule(t *testing.T) {
	c := newTestClient(t, &stubTokens{tokens: []string{"tok"}}, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	recs, err := c.ListAll(context.Background(), "Drug_Tests", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestListAll_RetriesTransientPage(t *testing.T) {
	var hits int32
	c := newTestClient(t, &stubTokens{tokens: []string{"tok"}}, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"data":[{"Name":"only-`+strconv.Itoa(int(n))+`"}],"info":{"more_records":false}}`) //nolint:errcheck
	})

	recs, err := c.ListAll(context.Background(), "Drug_Tests", []string{"Name"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "only-2", recs[0]["Name"])
}

func TestStripRecordPrefix(t *testing.T) {
	assert.Equal(t, "4876876000000", StripRecordPrefix("zcrm_4876876000000"))
	assert.Equal(t, "123", StripRecordPrefix(" 123 "))
}
