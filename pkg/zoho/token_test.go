package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-sync/internal/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func tokenServer(t *testing.T, hits *int32, handler func(n int32, w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/v2/token", r.URL.Path)
		n := atomic.AddInt32(hits, 1)
		handler(n, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeToken(w http.ResponseWriter, access string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"access_token": access,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
		"api_domain":   "https://www.zohoapis.com",
	})
}

func fastRefresh() TokenOption {
	return WithRefreshPolicy(resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func TestTokenCache_RefreshesOnceAndCaches(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, func(_ int32, w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		writeToken(w, "tok-1", 3600)
	})

	clock := &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	tc := NewTokenCache(srv.URL, "cid", "secret", "rt-1", WithClock(clock.Now), fastRefresh())

	tok, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock.Advance(30 * time.Minute)
	tok, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestTokenCache_RefreshesAfterExpiry(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, func(n int32, w http.ResponseWriter, _ *http.Request) {
		writeToken(w, map[int32]string{1: "tok-1", 2: "tok-2"}[n], 3600)
	})

	clock := &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	tc := NewTokenCache(srv.URL, "cid", "secret", "rt", WithClock(clock.Now), fastRefresh())

	_, err := tc.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Hour)
	tok, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestTokenCache_Invalidate(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		writeToken(w, "tok", 3600)
	})
	tc := NewTokenCache(srv.URL, "cid", "secret", "rt", fastRefresh())

	_, err := tc.Token(context.Background())
	require.NoError(t, err)
	tc.Invalidate()
	_, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestTokenCache_ConcurrentCallersShareRefresh(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		writeToken(w, "shared", 3600)
	})
	tc := NewTokenCache(srv.URL, "cid", "secret", "rt", fastRefresh())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := tc.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "shared", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestTokenCache_RejectedRefreshIsAuthError(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_code"}`)) //nolint:errcheck
	})
	tc := NewTokenCache(srv.URL, "cid", "secret", "bad", fastRefresh())

	_, err := tc.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "client errors are not retried")
}

func TestTokenCache_RetriesTransientRefresh(t *testing.T) {
	var hits int32
	srv := tokenServer(t, &hits, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeToken(w, "after-retry", 3600)
	})
	tc := NewTokenCache(srv.URL, "cid", "secret", "rt", fastRefresh())

	tok, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "after-retry", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
