package zoho

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/screening-sync/internal/resilience"
)

// ErrAuth is returned when an access token cannot be obtained.
var ErrAuth = eris.New("zoho: authentication failed")

// expiryDelta refreshes a token slightly before the server expires it.
const expiryDelta = 60 * time.Second

// TokenSource supplies bearer tokens for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenCache holds one access token and refreshes it lazily with the
// refresh-token grant. Concurrent refreshes collapse into one request.
type TokenCache struct {
	oauth        *oauth2.Config
	refreshToken string
	http         *http.Client
	now          func() time.Time
	policy       resilience.Policy

	mu    sync.RWMutex
	token *oauth2.Token
	group singleflight.Group
}

// TokenOption configures a TokenCache.
type TokenOption func(*TokenCache)

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCache) { c.now = now }
}

// WithTokenHTTPClient sets the HTTP client used for the token endpoint.
func WithTokenHTTPClient(hc *http.Client) TokenOption {
	return func(c *TokenCache) { c.http = hc }
}

// WithRefreshPolicy overrides the retry policy for token refresh.
func WithRefreshPolicy(p resilience.Policy) TokenOption {
	return func(c *TokenCache) { c.policy = p }
}

// NewTokenCache creates a TokenCache. accountsURL is the Zoho accounts host,
// e.g. https://accounts.zoho.com.
func NewTokenCache(accountsURL, clientID, clientSecret, refreshToken string, opts ...TokenOption) *TokenCache {
	c := &TokenCache{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(accountsURL, "/") + "/oauth/v2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		refreshToken: refreshToken,
		http:         &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
		policy:       resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.ShouldRetry = refreshRetryable
	c.policy.OnRetry = resilience.LogRetries("zoho", "token_refresh")
	return c
}

// Token returns a cached access token, refreshing it when absent or expired.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if c.valid(tok) {
		return tok.AccessToken, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		c.mu.RLock()
		cur := c.token
		c.mu.RUnlock()
		if c.valid(cur) {
			return cur, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(*oauth2.Token).AccessToken, nil
}

// Invalidate drops the cached token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *TokenCache) valid(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return c.now().Add(expiryDelta).Before(tok.Expiry)
}

func (c *TokenCache) refresh(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	issued := c.now()

	tok, err := resilience.Do(ctx, c.policy, func(ctx context.Context) (*oauth2.Token, error) {
		return c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: c.refreshToken}).Token()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, eris.Wrap(err, "zoho: refresh token"))
	}

	// Expiry is recomputed against the injected clock.
	if lifetime := tok.ExpiresIn; lifetime > 0 {
		tok.Expiry = issued.Add(time.Duration(lifetime) * time.Second)
	} else if !tok.Expiry.IsZero() {
		tok.Expiry = issued.Add(time.Until(tok.Expiry))
	}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	zap.L().Info("zoho: refreshed access token", zap.Time("expires_at", tok.Expiry))
	return tok, nil
}

func refreshRetryable(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return resilience.IsTransientHTTPStatus(re.Response.StatusCode)
	}
	return resilience.IsTransient(err)
}
