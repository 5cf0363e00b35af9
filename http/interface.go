package http

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/LeadPages/gcloud-requests/pool"
	"github.com/LeadPages/gcloud-requests/retry"
)

// Client defines the authenticated request interface.
// HTTP error statuses are returned as responses, never as errors.
type Client interface {
	Get(ctx context.Context, req *Request) (*Response, error)
	Post(ctx context.Context, req *Request) (*Response, error)
	Put(ctx context.Context, req *Request) (*Response, error)
	Patch(ctx context.Context, req *Request) (*Response, error)
	Delete(ctx context.Context, req *Request) (*Response, error)
	Do(ctx context.Context, method string, req *Request) (*Response, error)
	// Close stops watching the client's credential and closes pooled connections.
	Close() error
}

// Request represents an HTTP request with all necessary data
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
	// Timeout is accepted for compatibility and ignored. The client's
	// configured connect and read timeouts always apply.
	Timeout time.Duration
}

// Response represents an HTTP response with tracking information
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	CallCount   int64
	// Attempts counts the requests sent for this call, including resends.
	Attempts int
	// Refreshes counts the credential refreshes triggered by this call.
	Refreshes int
}

// RequestInterceptor is called before sending each attempt, after authorization
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving each attempt's response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the client configuration
type Config struct {
	Timeouts             pool.Timeouts
	PoolSize             int
	TransportRetries     int
	MaxWorkers           int
	WorkerIdleTTL        time.Duration
	MaxRefreshAttempts   int
	Backoff              retry.Backoff
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	DefaultHeaders       map[string]string
}
