// Package credentials defines the credential contract used by the request
// transport and a background watcher that refreshes registered credentials
// ahead of their expiry.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Credential supplies authorization for outgoing requests.
//
// Implementations must be safe for concurrent use and comparable with ==,
// since the watcher identifies entries by value. Pointer receivers satisfy both.
type Credential interface {
	// Valid reports whether the credential can be used without refreshing.
	Valid() bool
	// Expiry returns when the current token expires. The zero time means no expiry is known.
	Expiry() time.Time
	// Refresh obtains a new token. Recoverable failures are reported as *RefreshError.
	Refresh(ctx context.Context) error
	// Apply writes the authorization header, refreshing first when the credential is not valid.
	Apply(ctx context.Context, header http.Header) error
}

// ErrWatcherStopped is returned by Watch after the watcher has been stopped.
var ErrWatcherStopped = errors.New("credentials: watcher stopped")

// RefreshError reports an ordinary, recoverable failure to obtain a token.
// Callers may retry; the watcher keeps the credential registered.
type RefreshError struct {
	Reason string
	Err    error
}

// NewRefreshError wraps err as a recoverable refresh failure.
func NewRefreshError(reason string, err error) *RefreshError {
	return &RefreshError{Reason: reason, Err: err}
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("credentials: refresh failed: %s", e.Reason)
	}
	return fmt.Sprintf("credentials: refresh failed: %s: %v", e.Reason, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// IsRefreshError reports whether err is, or wraps, a *RefreshError.
func IsRefreshError(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}

// UnexpectedCredentialError reports a non-auth failure while using a
// credential, such as a broken implementation or a panic during refresh.
// The watcher evicts credentials that produce one.
type UnexpectedCredentialError struct {
	Op  string
	Err error
}

func (e *UnexpectedCredentialError) Error() string {
	return fmt.Sprintf("credentials: unexpected error during %s: %v", e.Op, e.Err)
}

func (e *UnexpectedCredentialError) Unwrap() error {
	return e.Err
}

// classify wraps err so that callers can tell recoverable refresh failures
// from everything else. A nil err stays nil.
func classify(op string, err error) error {
	if err == nil || IsRefreshError(err) {
		return err
	}
	var unexpected *UnexpectedCredentialError
	if errors.As(err, &unexpected) {
		return err
	}
	return &UnexpectedCredentialError{Op: op, Err: err}
}

// safeRefresh calls c.Refresh and converts panics into an UnexpectedCredentialError.
func safeRefresh(ctx context.Context, c Credential) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnexpectedCredentialError{Op: "refresh", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return classify("refresh", c.Refresh(ctx))
}
