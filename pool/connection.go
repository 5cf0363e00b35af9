// Package pool hands out one pooled HTTP connection per worker.
//
// A worker is any long-lived goroutine that issues requests. Its key travels
// on the context (WithWorker); requests without a key share DefaultWorker.
// Connections are created lazily, reused for the worker's later calls and
// retry pure transport faults on their own. HTTP statuses are never retried here.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/LeadPages/gcloud-requests/logger"
)

// Default connection settings.
const (
	DefaultConnectTimeout   = 3050 * time.Millisecond
	DefaultReadTimeout      = 30 * time.Second
	DefaultPoolSize         = 32
	DefaultTransportRetries = 10
	DefaultReadRetries      = 5
	DefaultRetryWaitMin     = 50 * time.Millisecond
	DefaultRetryWaitMax     = time.Second
)

// Timeouts are applied to every attempt.
type Timeouts struct {
	// Connect bounds dialing, including DNS resolution.
	Connect time.Duration
	// Read bounds the wait for response headers once the request is written.
	Read time.Duration
}

// DefaultTimeouts returns the 3.05s connect and 30s read timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: DefaultConnectTimeout, Read: DefaultReadTimeout}
}

// ConnectionOptions configures a pooled connection.
type ConnectionOptions struct {
	Timeouts Timeouts
	// PoolSize is the number of idle keep-alive connections kept per host.
	PoolSize int
	// TransportRetries is how often a transport fault is retried. Negative disables retries.
	TransportRetries int
	// ReadRetries caps how many of those retries may follow a read timeout on
	// an established connection. Negative disables read retries.
	ReadRetries      int
	RetryWaitMin     time.Duration
	RetryWaitMax     time.Duration
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.Timeouts.Connect <= 0 {
		o.Timeouts.Connect = DefaultConnectTimeout
	}
	if o.Timeouts.Read <= 0 {
		o.Timeouts.Read = DefaultReadTimeout
	}
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.TransportRetries == 0 {
		o.TransportRetries = DefaultTransportRetries
	}
	if o.TransportRetries < 0 {
		o.TransportRetries = 0
	}
	if o.ReadRetries == 0 {
		o.ReadRetries = DefaultReadRetries
	}
	if o.ReadRetries < 0 {
		o.ReadRetries = 0
	}
	if o.RetryWaitMin <= 0 {
		o.RetryWaitMin = DefaultRetryWaitMin
	}
	if o.RetryWaitMax < o.RetryWaitMin {
		o.RetryWaitMax = max(DefaultRetryWaitMax, o.RetryWaitMin)
	}
	return o
}

// Connection sends requests for a single worker.
type Connection interface {
	Do(req *http.Request) (*http.Response, error)
	Close() error
}

// Factory creates connections. It is injected for testability.
type Factory func(opts ConnectionOptions, log logger.Logger) (Connection, error)

// retryingConnection is a Connection backed by go-retryablehttp.
type retryingConnection struct {
	client      *retryablehttp.Client
	transport   *http.Transport
	readTimeout time.Duration
	readRetries int
}

// faultBudget counts the read faults retried for one request.
type faultBudget struct {
	reads atomic.Int32
}

type faultBudgetKey struct{}

// NewConnection creates a keep-alive connection pool that retries transport
// faults such as DNS failures, refused dials and resets. The read timeout
// bounds the wait for response headers and every read of the response body.
func NewConnection(opts ConnectionOptions, log logger.Logger) (Connection, error) {
	opts = opts.withDefaults()

	dialer := &net.Dialer{
		Timeout:   opts.Timeouts.Connect,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          opts.PoolSize,
		MaxIdleConnsPerHost:   opts.PoolSize,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeouts.Connect,
		ResponseHeaderTimeout: opts.Timeouts.Read,
		ExpectContinueTimeout: time.Second,
	}

	conn := &retryingConnection{
		transport:   transport,
		readTimeout: opts.Timeouts.Read,
		readRetries: opts.ReadRetries,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: transport}
	client.RetryMax = opts.TransportRetries
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.CheckRetry = conn.transportFaultsOnly
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = &leveledLogger{logger: log}
	conn.client = client

	return conn, nil
}

// transportFaultsOnly retries when no response was received at all.
// Read timeouts draw on the smaller ReadRetries budget.
func (c *retryingConnection) transportFaultsOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if isReadFault(err) {
		if budget, ok := ctx.Value(faultBudgetKey{}).(*faultBudget); ok && int(budget.reads.Add(1)) > c.readRetries {
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// isReadFault reports a timeout that happened after the dial succeeded.
func isReadFault(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Do sends req. The returned body fails with a timeout error when a single
// read waits longer than the read timeout; closing it releases the attempt.
func (c *retryingConnection) Do(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(context.WithValue(req.Context(), faultBudgetKey{}, &faultBudget{}))
	rreq, err := retryablehttp.FromRequest(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}

	resp, err := c.client.Do(rreq)
	if err != nil {
		cancel()
		return resp, err
	}
	resp.Body = newDeadlineBody(resp.Body, c.readTimeout, cancel)
	return resp, nil
}

func (c *retryingConnection) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// leveledLogger routes go-retryablehttp logs through logger.Logger.
type leveledLogger struct {
	logger logger.Logger
}

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)

func (l *leveledLogger) Error(msg string, keysAndValues ...any) {
	withKeyValues(l.logger.Error(), keysAndValues).Msg(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...any) {
	withKeyValues(l.logger.Debug(), keysAndValues).Msg(msg)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...any) {
	withKeyValues(l.logger.Debug(), keysAndValues).Msg(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...any) {
	withKeyValues(l.logger.Warn(), keysAndValues).Msg(msg)
}

func withKeyValues(event logger.LogEvent, keysAndValues []any) logger.LogEvent {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			event = event.Str(key, v.Error())
		case string:
			event = event.Str(key, v)
		case int:
			event = event.Int(key, v)
		case time.Duration:
			event = event.Dur(key, v)
		case *http.Request:
			event = event.Str(key, v.Method+" "+v.URL.Redacted())
		default:
			event = event.Interface(key, v)
		}
	}
	return event
}
