package fixtures

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/LeadPages/gcloud-requests/credentials"
)

// Credential fixture defaults
const (
	DefaultStubPrefix   = "stub-token"
	DefaultStubLifetime = time.Hour
	AuthorizationHeader = "Authorization"
)

// StubCredential is an in-memory credential that mints "<prefix>-<n>" tokens,
// where n counts the refreshes performed so far.
type StubCredential struct {
	mu        sync.Mutex
	prefix    string
	lifetime  time.Duration
	now       func() time.Time
	token     string
	expiry    time.Time
	refreshes int
}

// NewStubCredential creates a credential holding a valid "<prefix>-0" token.
func NewStubCredential(prefix string, lifetime time.Duration) *StubCredential {
	return NewStubCredentialWithClock(prefix, lifetime, time.Now)
}

// NewStubCredentialWithClock is NewStubCredential with an injectable time source.
func NewStubCredentialWithClock(prefix string, lifetime time.Duration, now func() time.Time) *StubCredential {
	if prefix == "" {
		prefix = DefaultStubPrefix
	}
	if lifetime <= 0 {
		lifetime = DefaultStubLifetime
	}
	c := &StubCredential{prefix: prefix, lifetime: lifetime, now: now}
	c.token = c.tokenLocked()
	c.expiry = now().Add(lifetime)
	return c
}

func (c *StubCredential) tokenLocked() string {
	return fmt.Sprintf("%s-%d", c.prefix, c.refreshes)
}

// Valid implements credentials.Credential
func (c *StubCredential) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.expiry)
}

// Expiry implements credentials.Credential
func (c *StubCredential) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}

// Refresh implements credentials.Credential
func (c *StubCredential) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	c.token = c.tokenLocked()
	c.expiry = c.now().Add(c.lifetime)
	return nil
}

// Apply implements credentials.Credential
func (c *StubCredential) Apply(ctx context.Context, header http.Header) error {
	if !c.Valid() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
	header.Set(AuthorizationHeader, "Bearer "+c.Token())
	return nil
}

// Token returns the current token.
func (c *StubCredential) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Refreshes returns how often Refresh has been called.
func (c *StubCredential) Refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

// SetExpiry overrides the expiry of the current token.
func (c *StubCredential) SetExpiry(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiry = t
}

// Expire invalidates the current token.
func (c *StubCredential) Expire() {
	c.SetExpiry(time.Time{})
}

// FailingCredential never holds a valid token and every refresh fails
// with a recoverable *credentials.RefreshError.
type FailingCredential struct {
	mu     sync.Mutex
	reason string
	calls  int
}

// NewFailingCredential creates a credential whose refreshes fail with reason.
func NewFailingCredential(reason string) *FailingCredential {
	if reason == "" {
		reason = "invalid_grant"
	}
	return &FailingCredential{reason: reason}
}

// Valid implements credentials.Credential
func (c *FailingCredential) Valid() bool { return false }

// Expiry implements credentials.Credential
func (c *FailingCredential) Expiry() time.Time { return time.Time{} }

// Refresh implements credentials.Credential
func (c *FailingCredential) Refresh(context.Context) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return credentials.NewRefreshError(c.reason, errors.New("token endpoint rejected the refresh"))
}

// Apply implements credentials.Credential
func (c *FailingCredential) Apply(ctx context.Context, _ http.Header) error {
	return c.Refresh(ctx)
}

// RefreshCalls returns how often Refresh has been called.
func (c *FailingCredential) RefreshCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// BrokenCredential fails with a non-auth error, or panics, whenever it is refreshed.
type BrokenCredential struct {
	err      error
	panicVal any
	expiry   time.Time
}

// NewBrokenCredential creates a credential whose refresh returns err.
func NewBrokenCredential(err error) *BrokenCredential {
	if err == nil {
		err = errors.New("credential backend misconfigured")
	}
	return &BrokenCredential{err: err}
}

// NewPanickingCredential creates a credential whose refresh panics with v.
func NewPanickingCredential(v any) *BrokenCredential {
	return &BrokenCredential{panicVal: v}
}

// Valid implements credentials.Credential
func (c *BrokenCredential) Valid() bool { return false }

// Expiry implements credentials.Credential
func (c *BrokenCredential) Expiry() time.Time { return c.expiry }

// Refresh implements credentials.Credential
func (c *BrokenCredential) Refresh(context.Context) error {
	if c.panicVal != nil {
		panic(c.panicVal)
	}
	return c.err
}

// Apply implements credentials.Credential
func (c *BrokenCredential) Apply(ctx context.Context, _ http.Header) error {
	return c.Refresh(ctx)
}

var (
	_ credentials.Credential = (*StubCredential)(nil)
	_ credentials.Credential = (*FailingCredential)(nil)
	_ credentials.Credential = (*BrokenCredential)(nil)
)
