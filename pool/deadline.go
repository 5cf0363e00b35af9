package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// deadlineBody bounds every Read of a response body by timeout. When a read
// stalls the attempt's context is cancelled, which unblocks the read.
type deadlineBody struct {
	body    io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
}

func newDeadlineBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *deadlineBody {
	return &deadlineBody{body: body, timeout: timeout, cancel: cancel}
}

func (b *deadlineBody) Read(p []byte) (int, error) {
	if b.timer == nil {
		b.timer = time.AfterFunc(b.timeout, b.expire)
	} else {
		b.timer.Reset(b.timeout)
	}
	n, err := b.body.Read(p)
	b.timer.Stop()

	if err != nil && !errors.Is(err, io.EOF) && b.expired.Load() {
		return n, &readTimeoutError{timeout: b.timeout, err: err}
	}
	return n, err
}

func (b *deadlineBody) expire() {
	b.expired.Store(true)
	b.cancel()
}

func (b *deadlineBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.body.Close()
	b.cancel()
	return err
}

// readTimeoutError is a net.Error reporting a stalled body read.
type readTimeoutError struct {
	timeout time.Duration
	err     error
}

func (e *readTimeoutError) Error() string {
	return fmt.Sprintf("response body read timed out after %s: %v", e.timeout, e.err)
}

func (e *readTimeoutError) Unwrap() error   { return e.err }
func (e *readTimeoutError) Timeout() bool   { return true }
func (e *readTimeoutError) Temporary() bool { return true }
