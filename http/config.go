package http

import (
	"github.com/LeadPages/gcloud-requests/config"
	"github.com/LeadPages/gcloud-requests/logger"
	"github.com/LeadPages/gcloud-requests/retry"
	"github.com/LeadPages/gcloud-requests/services"
)

// NewBuilderFromConfig creates a builder from the transport section of the
// loaded configuration. The credential still has to be supplied.
func NewBuilderFromConfig(log logger.Logger, cfg *config.TransportConfig) (*Builder, error) {
	if cfg == nil {
		return nil, NewValidationError("transport config is required", "transport")
	}

	strategy, err := services.Lookup(cfg.Service, log)
	if err != nil {
		return nil, NewValidationError(err.Error(), "transport.service")
	}

	b := NewBuilder(log).
		WithStrategy(strategy).
		WithMaxRefreshAttempts(cfg.Refresh.MaxAttempts)

	if cfg.Timeout.Connect > 0 || cfg.Timeout.Read > 0 {
		b.WithTimeouts(cfg.Timeout.Connect, cfg.Timeout.Read)
	}
	if cfg.Pool.Size > 0 {
		b.WithPoolSize(cfg.Pool.Size)
	}
	if cfg.Pool.Workers > 0 || cfg.Pool.IdleTTL > 0 {
		b.WithWorkerLimits(cfg.Pool.Workers, cfg.Pool.IdleTTL)
	}
	if cfg.Backoff.Base > 0 {
		b.WithBackoff(retry.Backoff{Base: cfg.Backoff.Base, Cap: max(cfg.Backoff.Cap, cfg.Backoff.Base)})
	}
	// zero keeps the pool default, negative disables transport retries
	if cfg.Retries.Transport != 0 {
		b.WithTransportRetries(cfg.Retries.Transport)
	}
	for k, v := range cfg.DefaultHeaders {
		b.WithDefaultHeader(k, v)
	}

	return b, nil
}
