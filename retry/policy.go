package retry

import (
	"math"
	"time"
)

// Table is an immutable mapping from a failure to the maximum number of
// retries it allows. A table is keyed either by Status or by numeric code.
type Table struct {
	statuses map[Status]int
	codes    map[int]int
}

// StatusTable builds a table keyed by canonical status.
func StatusTable(entries map[Status]int) Table {
	m := make(map[Status]int, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Table{statuses: m}
}

// CodeTable builds a table keyed by numeric code.
func CodeTable(entries map[int]int) Table {
	m := make(map[int]int, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Table{codes: m}
}

// Lookup returns the maximum retries for f, if the table lists it.
func (t Table) Lookup(f Failure) (int, bool) {
	if t.statuses != nil {
		n, ok := t.statuses[f.Status]
		return n, ok
	}
	if t.codes != nil {
		n, ok := t.codes[f.Code]
		return n, ok
	}
	return 0, false
}

// Len reports the number of entries in the table.
func (t Table) Len() int {
	return len(t.statuses) + len(t.codes)
}

// Policy yields the retry budget for a failure given the current
// transaction depth.
type Policy interface {
	MaxRetries(f Failure, depth int) (int, bool)
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(f Failure, depth int) (int, bool)

// MaxRetries calls fn(f, depth).
func (fn PolicyFunc) MaxRetries(f Failure, depth int) (int, bool) {
	return fn(f, depth)
}

// Decide reports whether a request that has already been retried retries
// times may be resent. max is the budget found for f, if any.
func Decide(p Policy, f Failure, retries, depth int) (maxRetries int, ok bool) {
	if p == nil {
		return 0, false
	}
	maxRetries, found := p.MaxRetries(f, depth)
	if !found {
		return 0, false
	}
	return maxRetries, retries < maxRetries
}

// Strategy bundles service-specific classification and retry tables.
type Strategy interface {
	Policy
	Classifier
	// Name identifies the strategy in logs and metrics.
	Name() string
	// Scopes lists the OAuth scopes a credential for this service needs.
	Scopes() []string
}

// Backoff is a capped exponential schedule without jitter.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff waits 62.5ms, 125ms, 250ms, 500ms, then 1s for every later retry.
var DefaultBackoff = Backoff{
	Base: time.Second / 16,
	Cap:  time.Second,
}

// maxBackoffExponent keeps 2^retries from overflowing.
const maxBackoffExponent = 30

// Delay returns min(Base * 2^retries, Cap).
func (b Backoff) Delay(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries > maxBackoffExponent {
		retries = maxBackoffExponent
	}
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	limit := b.Cap
	if limit <= 0 {
		limit = DefaultBackoff.Cap
	}

	delay := float64(base) * math.Pow(2, float64(retries))
	if delay > float64(limit) {
		return limit
	}
	return time.Duration(delay)
}
