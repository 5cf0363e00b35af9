package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/LeadPages/gcloud-requests/credentials"
	"github.com/LeadPages/gcloud-requests/internal/tracking"
	"github.com/LeadPages/gcloud-requests/logger"
	"github.com/LeadPages/gcloud-requests/pool"
	"github.com/LeadPages/gcloud-requests/retry"
	"github.com/LeadPages/gcloud-requests/services"
	"github.com/LeadPages/gcloud-requests/trace"
	"github.com/LeadPages/gcloud-requests/transaction"
)

const (
	// DefaultMaxRefreshAttempts is how many credential refreshes one call may trigger
	DefaultMaxRefreshAttempts = 5
)

// client implements the Client interface
type client struct {
	logger               logger.Logger
	config               *Config
	credential           credentials.Credential
	strategy             retry.Strategy
	watcher              *credentials.Watcher
	connections          *pool.Manager
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	sleep                func(ctx context.Context, d time.Duration) error
	callCount            int64
	closeOnce            sync.Once
	closeErr             error
}

// NewClient creates a client for cred with default configuration
func NewClient(log logger.Logger, cred credentials.Credential) (Client, error) {
	return NewBuilder(log).WithCredential(cred).Build()
}

// Builder provides a fluent interface for configuring the client
type Builder struct {
	config     *Config
	logger     logger.Logger
	credential credentials.Credential
	strategy   retry.Strategy
	watcher    *credentials.Watcher
	factory    pool.Factory
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewBuilder creates a new client builder
func NewBuilder(log logger.Logger) *Builder {
	return &Builder{
		config: &Config{
			Timeouts:             pool.DefaultTimeouts(),
			PoolSize:             pool.DefaultPoolSize,
			TransportRetries:     pool.DefaultTransportRetries,
			MaxWorkers:           pool.DefaultMaxWorkers,
			WorkerIdleTTL:        pool.DefaultIdleTTL,
			MaxRefreshAttempts:   DefaultMaxRefreshAttempts,
			Backoff:              retry.DefaultBackoff,
			RequestInterceptors:  []RequestInterceptor{},
			ResponseInterceptors: []ResponseInterceptor{},
			DefaultHeaders:       make(map[string]string),
		},
		logger: log,
		sleep:  sleepContext,
	}
}

// WithCredential sets the credential used to authorize every request
func (b *Builder) WithCredential(cred credentials.Credential) *Builder {
	b.credential = cred
	return b
}

// WithStrategy sets the service retry strategy
func (b *Builder) WithStrategy(strategy retry.Strategy) *Builder {
	b.strategy = strategy
	return b
}

// WithWatcher registers the credential with w on Build and unregisters it on Close
func (b *Builder) WithWatcher(w *credentials.Watcher) *Builder {
	b.watcher = w
	return b
}

// WithTimeouts sets the per-attempt connect and read timeouts
func (b *Builder) WithTimeouts(connect, read time.Duration) *Builder {
	b.config.Timeouts = pool.Timeouts{Connect: connect, Read: read}
	return b
}

// WithPoolSize sets the number of keep-alive connections per worker
func (b *Builder) WithPoolSize(size int) *Builder {
	b.config.PoolSize = size
	return b
}

// WithTransportRetries sets how often pure transport faults are retried
func (b *Builder) WithTransportRetries(n int) *Builder {
	b.config.TransportRetries = n
	return b
}

// WithWorkerLimits bounds the per-worker connection cache
func (b *Builder) WithWorkerLimits(maxWorkers int, idleTTL time.Duration) *Builder {
	b.config.MaxWorkers = maxWorkers
	b.config.WorkerIdleTTL = idleTTL
	return b
}

// WithMaxRefreshAttempts sets the refresh ceiling per call. Zero disables reactive refreshes.
func (b *Builder) WithMaxRefreshAttempts(n int) *Builder {
	if n >= 0 {
		b.config.MaxRefreshAttempts = n
	}
	return b
}

// WithBackoff sets the delay schedule between resends of classified failures
func (b *Builder) WithBackoff(backoff retry.Backoff) *Builder {
	b.config.Backoff = backoff
	return b
}

// WithConnectionFactory replaces the pooled connection factory
func (b *Builder) WithConnectionFactory(factory pool.Factory) *Builder {
	b.factory = factory
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// Build creates the client. When a watcher is configured the credential is
// registered with it, which may refresh the credential once.
func (b *Builder) Build() (Client, error) {
	if b.credential == nil {
		return nil, NewValidationError("credential is required", "credential")
	}
	strategy := b.strategy
	if strategy == nil {
		strategy = services.NewDefault(b.logger)
	}

	if b.watcher != nil {
		if err := b.watcher.Watch(context.Background(), b.credential); err != nil {
			return nil, NewCredentialError("failed to watch credential", err)
		}
	}

	connections := pool.NewManager(b.logger, pool.ManagerOptions{
		MaxWorkers: b.config.MaxWorkers,
		IdleTTL:    b.config.WorkerIdleTTL,
		Factory:    b.factory,
		Connection: pool.ConnectionOptions{
			Timeouts:         b.config.Timeouts,
			PoolSize:         b.config.PoolSize,
			TransportRetries: b.config.TransportRetries,
		},
	})
	connections.StartCleanup(0)

	return &client{
		logger:               b.logger,
		config:               b.config,
		credential:           b.credential,
		strategy:             strategy,
		watcher:              b.watcher,
		connections:          connections,
		requestInterceptors:  b.config.RequestInterceptors,
		responseInterceptors: b.config.ResponseInterceptors,
		sleep:                b.sleep,
	}, nil
}

// Get performs a GET request
func (c *client) Get(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodGet, req)
}

// Post performs a POST request
func (c *client) Post(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPost, req)
}

// Put performs a PUT request
func (c *client) Put(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPut, req)
}

// Patch performs a PATCH request
func (c *client) Patch(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPatch, req)
}

// Delete performs a DELETE request
func (c *client) Delete(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodDelete, req)
}

// Close unregisters the credential and closes pooled connections
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		if c.watcher != nil {
			c.watcher.Unwatch(c.credential)
		}
		c.closeErr = c.connections.Close()
	})
	return c.closeErr
}

// callState tracks one logical request across its attempts
type callState struct {
	start     time.Time
	callCount int64
	attempts  int
	retries   int
	refreshes int
}

// Do performs an authorized request, refreshing the credential on 401 and
// resending classified transient failures with backoff.
func (c *client) Do(ctx context.Context, method string, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}
	if req.Timeout > 0 {
		c.logger.Debug().
			Dur("requested_timeout", req.Timeout).
			Dur("connect_timeout", c.config.Timeouts.Connect).
			Dur("read_timeout", c.config.Timeouts.Read).
			Msg("Ignoring per-request timeout, configured timeouts apply")
	}

	ctx, _ = trace.EnsureRequestID(ctx)
	state := &callState{
		start:     time.Now(),
		callCount: atomic.AddInt64(&c.callCount, 1),
	}

	ctx, span := tracking.StartRequest(ctx, c.strategy.Name(), method, req.URL)
	resp, err := c.execute(ctx, method, req, state)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	tracking.EndRequest(span, status, state.attempts, state.refreshes, err)
	tracking.RecordRequest(ctx, c.strategy.Name(), method, status, state.attempts, time.Since(state.start), err)
	return resp, err
}

func (c *client) execute(ctx context.Context, method string, req *Request, state *callState) (*Response, error) {
	conn, err := c.connections.ForContext(ctx)
	if err != nil {
		return nil, NewNetworkError("failed to acquire pooled connection", err)
	}
	span := oteltrace.SpanFromContext(ctx)
	maxRefreshes := c.config.MaxRefreshAttempts

	for {
		httpReq, err := c.buildRequest(ctx, method, req)
		if err != nil {
			return nil, err
		}

		if err := c.credential.Apply(ctx, httpReq.Header); err != nil {
			if !credentials.IsRefreshError(err) {
				return nil, NewCredentialError("failed to authorize request", err)
			}
			tracking.RecordRefresh(ctx, tracking.RefreshSourceRequest, err)
			tracking.AddRefreshEvent(span, err)
			if state.refreshes >= maxRefreshes {
				return nil, NewAuthExhaustedError(state.refreshes, err)
			}
			state.refreshes++
			state.retries = 0
			c.logger.Warn().
				Err(err).
				Int("refresh_attempt", state.refreshes).
				Int("max_refresh_attempts", maxRefreshes).
				Msg("Credential refresh failed while authorizing request")
			continue
		}

		if err := c.runRequestInterceptors(ctx, httpReq); err != nil {
			return nil, NewInterceptorError("request interceptor failed", "request", err)
		}

		state.attempts++
		c.logRequest(method, req, state)

		httpResp, err := conn.Do(httpReq)
		if err != nil {
			if c.isTimeout(err) {
				return nil, newTimeoutErrorWithCause("request timeout", c.config.Timeouts.Read, err)
			}
			return nil, NewNetworkError("request execution failed", err)
		}

		resp, err := c.buildResponse(ctx, state, httpReq, httpResp)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == nethttp.StatusUnauthorized && state.refreshes < maxRefreshes {
			if err := c.refresh(ctx, span, state, resp.StatusCode); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			again, err := c.handleResponseError(ctx, span, resp, state)
			if err != nil {
				return nil, err
			}
			if again {
				continue
			}
		}

		c.logResponse(resp)
		return resp, nil
	}
}

// refresh performs a reactive refresh after an authorization failure.
// Recoverable failures are swallowed so the next attempt can try again.
func (c *client) refresh(ctx context.Context, span oteltrace.Span, state *callState, status int) error {
	state.refreshes++
	state.retries = 0
	c.logger.Info().
		Int("status", status).
		Int("refresh_attempt", state.refreshes).
		Int("max_refresh_attempts", c.config.MaxRefreshAttempts).
		Msg("Refreshing credentials due to an authorization failure")

	err := c.credential.Refresh(ctx)
	tracking.RecordRefresh(ctx, tracking.RefreshSourceRequest, err)
	tracking.AddRefreshEvent(span, err)

	switch {
	case err == nil:
		return nil
	case credentials.IsRefreshError(err):
		c.logger.Warn().Err(err).Msg("Credential refresh failed, resending anyway")
		return nil
	default:
		return NewCredentialError("failed to refresh credential", err)
	}
}

// handleResponseError classifies a failed response and, if the strategy
// allows another attempt, waits out the backoff. It reports whether to resend.
func (c *client) handleResponseError(ctx context.Context, span oteltrace.Span, resp *Response, state *callState) (bool, error) {
	failure := c.strategy.Classify(&retry.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Headers,
		Body:       resp.Body,
	})

	maxRetries, ok := retry.Decide(c.strategy, failure, state.retries, transaction.Depth(ctx))
	if !ok {
		return false, nil
	}

	delay := c.config.Backoff.Delay(state.retries)
	c.logger.Warn().
		Str("service", c.strategy.Name()).
		Str("failure", failure.String()).
		Dur("backoff", delay).
		Msg("Sleeping before retrying failed request")
	if err := c.sleep(ctx, delay); err != nil {
		return false, newTimeoutErrorWithCause("context done during retry backoff", delay, err)
	}

	state.retries++
	c.logger.Warn().
		Str("service", c.strategy.Name()).
		Int("retry", state.retries).
		Int("max_retries", maxRetries).
		Msg("Retrying failed request")
	tracking.RecordRetry(ctx, c.strategy.Name(), failure.String())
	tracking.AddRetryEvent(span, failure.String(), state.retries)
	return true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// validateRequest validates the request before sending
func (c *client) validateRequest(req *Request) error {
	if req == nil {
		return NewValidationError("request cannot be nil", "request")
	}
	if req.URL == "" {
		return NewValidationError("URL cannot be empty", "url")
	}
	return nil
}

// applyHeaders applies headers to the HTTP request
func (c *client) applyHeaders(ctx context.Context, httpReq *nethttp.Request, req *Request) {
	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}

	// Request-specific headers override defaults
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if httpReq.Header.Get("Content-Type") == "" && req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	trace.InjectHeaders(ctx, httpReq.Header)
}

// buildRequest constructs a fresh *http.Request for one attempt.
func (c *client) buildRequest(ctx context.Context, method string, req *Request) (*nethttp.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, NewValidationError("failed to create HTTP request: "+err.Error(), "url")
	}

	c.applyHeaders(ctx, httpReq, req)
	return httpReq, nil
}

// buildResponse runs response interceptors, reads body, and builds a Response.
func (c *client) buildResponse(ctx context.Context, state *callState, httpReq *nethttp.Request, httpResp *nethttp.Response) (*Response, error) {
	defer httpResp.Body.Close()

	if err := c.runResponseInterceptors(ctx, httpReq, httpResp); err != nil {
		return nil, NewInterceptorError("response interceptor failed", "response", err)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if c.isTimeout(err) {
			return nil, newTimeoutErrorWithCause("reading response body", c.config.Timeouts.Read, err)
		}
		return nil, NewNetworkError("failed to read response body", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Headers:    httpResp.Header,
		Stats: Stats{
			ElapsedTime: time.Since(state.start),
			CallCount:   state.callCount,
			Attempts:    state.attempts,
			Refreshes:   state.refreshes,
		},
	}, nil
}

func (c *client) isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// runRequestInterceptors executes all request interceptors
func (c *client) runRequestInterceptors(ctx context.Context, req *nethttp.Request) error {
	for _, interceptor := range c.requestInterceptors {
		if err := interceptor(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// runResponseInterceptors executes all response interceptors
func (c *client) runResponseInterceptors(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error {
	for _, interceptor := range c.responseInterceptors {
		if err := interceptor(ctx, req, resp); err != nil {
			return err
		}
	}
	return nil
}

// logRequest logs an outgoing attempt
func (c *client) logRequest(method string, req *Request, state *callState) {
	logEvent := c.logger.Debug().
		Str("direction", "outbound").
		Str("service", c.strategy.Name()).
		Str("method", method).
		Str("url", req.URL).
		Int("attempt", state.attempts).
		Bool("has_body", len(req.Body) > 0)

	if len(req.Headers) > 0 {
		logEvent = logEvent.Interface("headers", req.Headers)
	}

	logEvent.Msg("Authenticated request")
}

// logResponse logs the final response of a call
func (c *client) logResponse(resp *Response) {
	c.logger.Info().
		Str("direction", "inbound").
		Str("service", c.strategy.Name()).
		Int("status", resp.StatusCode).
		Dur("elapsed", resp.Stats.ElapsedTime).
		Int64("call_count", resp.Stats.CallCount).
		Int("attempts", resp.Stats.Attempts).
		Int("refreshes", resp.Stats.Refreshes).
		Msg("Authenticated response")
}
