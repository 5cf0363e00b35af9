package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeadPages/gcloud-requests/config"
	"github.com/LeadPages/gcloud-requests/pool"
	"github.com/LeadPages/gcloud-requests/retry"
	"github.com/LeadPages/gcloud-requests/services"
	"github.com/LeadPages/gcloud-requests/testing/fixtures"
)

func TestNewBuilderFromConfig(t *testing.T) {
	cfg := &config.TransportConfig{
		Service: "storage",
		Timeout: config.TimeoutConfig{Connect: time.Second, Read: 5 * time.Second},
		Pool:    config.PoolConfig{Size: 4, Workers: 8, IdleTTL: time.Minute},
		Refresh: config.RefreshConfig{MaxAttempts: 0},
		Backoff: config.BackoffConfig{Base: 10 * time.Millisecond, Cap: 80 * time.Millisecond},
		Retries: config.RetriesConfig{Transport: -1},
		DefaultHeaders: map[string]string{
			"X-Goog-User-Project": "project",
		},
	}

	b, err := NewBuilderFromConfig(createTestLogger(), cfg)
	require.NoError(t, err)

	assert.IsType(t, &services.Storage{}, b.strategy)
	assert.Equal(t, pool.Timeouts{Connect: time.Second, Read: 5 * time.Second}, b.config.Timeouts)
	assert.Equal(t, 4, b.config.PoolSize)
	assert.Equal(t, 8, b.config.MaxWorkers)
	assert.Equal(t, time.Minute, b.config.WorkerIdleTTL)
	assert.Equal(t, 0, b.config.MaxRefreshAttempts)
	assert.Equal(t, retry.Backoff{Base: 10 * time.Millisecond, Cap: 80 * time.Millisecond}, b.config.Backoff)
	assert.Equal(t, -1, b.config.TransportRetries)
	assert.Equal(t, "project", b.config.DefaultHeaders["X-Goog-User-Project"])

	c, err := b.WithCredential(fixtures.NewStubCredential("", time.Hour)).Build()
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestNewBuilderFromConfigDefaults(t *testing.T) {
	b, err := NewBuilderFromConfig(createTestLogger(), &config.TransportConfig{})
	require.NoError(t, err)

	assert.IsType(t, &services.Default{}, b.strategy)
	assert.Equal(t, pool.DefaultTimeouts(), b.config.Timeouts)
	assert.Equal(t, pool.DefaultPoolSize, b.config.PoolSize)
	assert.Equal(t, pool.DefaultTransportRetries, b.config.TransportRetries)
	assert.Equal(t, retry.DefaultBackoff, b.config.Backoff)
}

func TestNewBuilderFromConfigErrors(t *testing.T) {
	_, err := NewBuilderFromConfig(createTestLogger(), nil)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ValidationError))

	_, err = NewBuilderFromConfig(createTestLogger(), &config.TransportConfig{Service: "bigquery"})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ValidationError))
}
