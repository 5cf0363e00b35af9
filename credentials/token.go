package credentials

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// DefaultExpiryDelta is how long before expiry a token stops being reported valid.
const DefaultExpiryDelta = 10 * time.Second

// TokenFetcher obtains a fresh OAuth2 token.
type TokenFetcher func(ctx context.Context) (*oauth2.Token, error)

// TokenOption configures a TokenCredential.
type TokenOption func(*TokenCredential)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCredential) {
		if now != nil {
			c.now = now
		}
	}
}

// WithExpiryDelta sets how early a token is treated as expired.
func WithExpiryDelta(d time.Duration) TokenOption {
	return func(c *TokenCredential) {
		if d >= 0 {
			c.expiryDelta = d
		}
	}
}

// WithInitialToken seeds the credential with an existing token.
func WithInitialToken(tok *oauth2.Token) TokenOption {
	return func(c *TokenCredential) {
		c.token = tok
	}
}

// TokenCredential is a Credential backed by an OAuth2 token source.
// Concurrent refreshes collapse into a single fetch.
type TokenCredential struct {
	fetch       TokenFetcher
	now         func() time.Time
	expiryDelta time.Duration

	mu    sync.RWMutex
	token *oauth2.Token
	group singleflight.Group
}

var _ Credential = (*TokenCredential)(nil)

// NewTokenCredential creates a credential that calls fetch to refresh.
// Errors returned by fetch are reported as *RefreshError.
func NewTokenCredential(fetch TokenFetcher, opts ...TokenOption) *TokenCredential {
	c := &TokenCredential{
		fetch:       fetch,
		now:         time.Now,
		expiryDelta: DefaultExpiryDelta,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromClientCredentials creates a credential using the OAuth2 client
// credentials flow described by cfg.
func FromClientCredentials(cfg *clientcredentials.Config, opts ...TokenOption) *TokenCredential {
	return NewTokenCredential(cfg.Token, opts...)
}

// FromTokenSource adapts an oauth2.TokenSource.
func FromTokenSource(src oauth2.TokenSource, opts ...TokenOption) *TokenCredential {
	return NewTokenCredential(func(context.Context) (*oauth2.Token, error) {
		return src.Token()
	}, opts...)
}

// Valid reports whether a non-empty token is held and not about to expire.
func (c *TokenCredential) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validLocked()
}

func (c *TokenCredential) validLocked() bool {
	if c.token == nil || c.token.AccessToken == "" {
		return false
	}
	if c.token.Expiry.IsZero() {
		return true
	}
	return c.now().Add(c.expiryDelta).Before(c.token.Expiry)
}

// Expiry returns the current token's expiry, or the zero time.
func (c *TokenCredential) Expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return time.Time{}
	}
	return c.token.Expiry
}

// Token returns a copy of the current token, or nil.
func (c *TokenCredential) Token() *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return nil
	}
	tok := *c.token
	return &tok
}

// Refresh fetches a new token.
func (c *TokenCredential) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *TokenCredential) refresh(ctx context.Context) error {
	if c.fetch == nil {
		return &UnexpectedCredentialError{Op: "refresh", Err: errors.New("no token fetcher configured")}
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		if IsRefreshError(err) {
			return err
		}
		return NewRefreshError(refreshReason(err), err)
	}
	if tok == nil || tok.AccessToken == "" {
		return &UnexpectedCredentialError{Op: "refresh", Err: errors.New("token endpoint returned an empty access token")}
	}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	return nil
}

func refreshReason(err error) string {
	var retrieve *oauth2.RetrieveError
	switch {
	case errors.As(err, &retrieve):
		if retrieve.ErrorCode != "" {
			return retrieve.ErrorCode
		}
		if retrieve.Response != nil {
			return http.StatusText(retrieve.Response.StatusCode)
		}
		return "token endpoint rejected the request"
	case errors.Is(err, context.DeadlineExceeded):
		return "token request timed out"
	case errors.Is(err, context.Canceled):
		return "token request canceled"
	default:
		return "token request failed"
	}
}

// Apply sets the Authorization header, refreshing first if needed.
func (c *TokenCredential) Apply(ctx context.Context, header http.Header) error {
	if !c.Valid() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}

	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok == nil {
		return NewRefreshError("no token available", nil)
	}
	header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return nil
}
