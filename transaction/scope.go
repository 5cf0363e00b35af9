// Package transaction tracks whether the current worker is inside one or more
// application-declared transactions.
//
// A Scope is a nesting counter owned by a single worker. It travels on a
// context.Context so the request transport can consult it without any
// goroutine-local state:
//
//	scope := transaction.NewScope()
//	ctx = transaction.WithScope(ctx, scope)
//	err := transaction.Run(ctx, func(ctx context.Context) error {
//		// ABORTED responses are not retried in here
//		return commit(ctx)
//	})
package transaction

import (
	"context"
	"sync/atomic"
)

// Scope counts the transaction nesting depth of one worker.
// The zero value is ready to use and reports depth 0.
type Scope struct {
	depth atomic.Int64
}

// NewScope returns a scope at depth 0.
func NewScope() *Scope {
	return &Scope{}
}

// Enter increments the nesting depth.
func (s *Scope) Enter() {
	if s == nil {
		return
	}
	s.depth.Add(1)
}

// Exit decrements the nesting depth. It never goes below zero.
func (s *Scope) Exit() {
	if s == nil {
		return
	}
	for {
		cur := s.depth.Load()
		if cur <= 0 {
			return
		}
		if s.depth.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Depth reports the current nesting depth.
func (s *Scope) Depth() int {
	if s == nil {
		return 0
	}
	return int(s.depth.Load())
}

// InTransaction reports whether depth is greater than zero.
func (s *Scope) InTransaction() bool {
	return s.Depth() > 0
}

type scopeKey struct{}

// WithScope returns a context carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope carried by ctx, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// Depth reports the nesting depth of the scope on ctx, or 0 when there is none.
func Depth(ctx context.Context) int {
	s, _ := FromContext(ctx)
	return s.Depth()
}

// Run brackets fn with Enter and Exit on the scope carried by ctx.
// When ctx has no scope a fresh one is attached for the duration of fn.
// Exit runs even if fn panics.
func Run(ctx context.Context, fn func(context.Context) error) error {
	s, ok := FromContext(ctx)
	if !ok {
		s = NewScope()
		ctx = WithScope(ctx, s)
	}
	s.Enter()
	defer s.Exit()
	return fn(ctx)
}
