package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeadPages/gcloud-requests/observability"
)

func validConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Transport: TransportConfig{
			Service: "datastore",
			Timeout: TimeoutConfig{Connect: time.Second, Read: 30 * time.Second},
			Pool:    PoolConfig{Size: 32, Workers: 256, IdleTTL: 30 * time.Minute},
			Refresh: RefreshConfig{MaxAttempts: 5},
			Backoff: BackoffConfig{Base: 62500 * time.Microsecond, Cap: time.Second},
			Retries: RetriesConfig{Transport: 10},
		},
		Watcher: WatcherConfig{Enabled: true, MaxWait: time.Hour},
	}
}

func configErrors(t *testing.T, err error) []*ConfigError {
	t.Helper()
	var joined interface{ Unwrap() []error }
	require.ErrorAs(t, err, &joined)

	var out []*ConfigError
	for _, e := range joined.Unwrap() {
		var cfgErr *ConfigError
		require.ErrorAs(t, e, &cfgErr)
		out = append(out, cfgErr)
	}
	return out
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateNil(t *testing.T) {
	assert.Error(t, Validate(nil))
}

func TestValidateFieldErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		field    string
		category string
		contains string
	}{
		{
			name:     "unknown log level",
			mutate:   func(c *Config) { c.Log.Level = "verbose" },
			field:    "log.level",
			category: "invalid",
			contains: "must be one of",
		},
		{
			name:     "zero connect timeout",
			mutate:   func(c *Config) { c.Transport.Timeout.Connect = 0 },
			field:    "transport.timeout.connect",
			category: "invalid",
			contains: "must be greater than 0",
		},
		{
			name:     "negative refresh attempts",
			mutate:   func(c *Config) { c.Transport.Refresh.MaxAttempts = -1 },
			field:    "transport.refresh.maxattempts",
			category: "invalid",
			contains: "must be at least 0",
		},
		{
			name:     "cap below base",
			mutate:   func(c *Config) { c.Transport.Backoff.Cap = time.Millisecond },
			field:    "transport.backoff.cap",
			category: "invalid",
			contains: "must not be less than base",
		},
		{
			name:     "transport retries below -1",
			mutate:   func(c *Config) { c.Transport.Retries.Transport = -2 },
			field:    "transport.retries.transport",
			category: "invalid",
		},
		{
			name:     "zero pool workers",
			mutate:   func(c *Config) { c.Transport.Pool.Workers = 0 },
			field:    "transport.pool.workers",
			category: "invalid",
		},
		{
			name:     "bad token url",
			mutate:   func(c *Config) { c.Credentials = CredentialsConfig{ClientID: "id", TokenURL: "not a url"} },
			field:    "credentials.tokenurl",
			category: "invalid",
			contains: "must be a valid URL",
		},
		{
			name:     "secret without client id",
			mutate:   func(c *Config) { c.Credentials.ClientSecret = "secret" },
			field:    "credentials.clientid",
			category: "missing",
			contains: "GCLOUD_REQUESTS_CREDENTIALS_CLIENTID",
		},
		{
			name:     "observability without service name",
			mutate:   func(c *Config) { c.Observability = observability.Config{Enabled: true} },
			field:    "observability",
			category: "invalid",
			contains: "service name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			errs := configErrors(t, Validate(cfg))
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Equal(t, tt.category, errs[0].Category)
			if tt.contains != "" {
				assert.Contains(t, errs[0].Error(), tt.contains)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "loud"
	cfg.Transport.Pool.Size = 0
	cfg.Watcher.MaxWait = 0

	errs := configErrors(t, Validate(cfg))
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"log.level", "transport.pool.size", "watcher.maxwait"}, fields)
}

func TestConfigErrors(t *testing.T) {
	err := NewMissingFieldError("credentials.clientid", "GCLOUD_REQUESTS_CREDENTIALS_CLIENTID", "credentials.clientid")
	assert.Equal(t, "config_missing: credentials.clientid required set GCLOUD_REQUESTS_CREDENTIALS_CLIENTID env var or add credentials.clientid to config.yaml", err.Error())
	assert.False(t, IsNotConfigured(err))

	invalid := NewInvalidFieldError("transport.service", "invalid value \"x\"", []string{"datastore", "storage"})
	assert.Equal(t, "config_invalid: transport.service invalid value \"x\" must be one of: datastore, storage", invalid.Error())

	notConfigured := NewNotConfiguredError("credentials", "GCLOUD_REQUESTS_CREDENTIALS_CLIENTID", "credentials.clientid")
	assert.True(t, IsNotConfigured(notConfigured))
	assert.True(t, errors.Is(notConfigured, ErrNotConfigured))
	assert.True(t, IsNotConfigured(errors.Join(errors.New("wrapped"), notConfigured)))
	assert.False(t, IsNotConfigured(nil))

	withDetails := &ConfigError{Category: "invalid", Field: "f", Message: "m", Details: []string{"a", "b"}}
	assert.Equal(t, "config_invalid: f m a; b", withDetails.Error())
}
