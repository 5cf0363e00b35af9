package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)

	tr := cfg.Transport
	assert.Equal(t, "default", tr.Service)
	assert.Equal(t, 3050*time.Millisecond, tr.Timeout.Connect)
	assert.Equal(t, 30*time.Second, tr.Timeout.Read)
	assert.Equal(t, 32, tr.Pool.Size)
	assert.Equal(t, 256, tr.Pool.Workers)
	assert.Equal(t, 30*time.Minute, tr.Pool.IdleTTL)
	assert.Equal(t, 5, tr.Refresh.MaxAttempts)
	assert.Equal(t, 62500*time.Microsecond, tr.Backoff.Base)
	assert.Equal(t, time.Second, tr.Backoff.Cap)
	assert.Equal(t, 10, tr.Retries.Transport)

	assert.True(t, cfg.Watcher.Enabled)
	assert.Equal(t, time.Hour, cfg.Watcher.MaxWait)
	assert.False(t, cfg.Credentials.Configured())
	assert.False(t, cfg.Observability.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeYAML(t, `
log:
  level: debug
  pretty: true
transport:
  service: datastore
  timeout:
    connect: 1s
    read: 10s
  pool:
    size: 8
  defaultheaders:
    X-Goog-User-Project: my-project
credentials:
  clientid: client
  clientsecret: secret
  tokenurl: https://oauth2.example.com/token
  scopes:
    - https://www.googleapis.com/auth/datastore
observability:
  enabled: true
  service:
    name: lookup
  trace:
    samplerate: 0.25
app:
  project: my-project
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "datastore", cfg.Transport.Service)
	assert.Equal(t, time.Second, cfg.Transport.Timeout.Connect)
	assert.Equal(t, 10*time.Second, cfg.Transport.Timeout.Read)
	assert.Equal(t, 8, cfg.Transport.Pool.Size)
	assert.Equal(t, 256, cfg.Transport.Pool.Workers)
	assert.Equal(t, "my-project", cfg.Transport.DefaultHeaders["X-Goog-User-Project"])

	assert.True(t, cfg.Credentials.Configured())
	assert.Equal(t, "secret", cfg.Credentials.ClientSecret)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/datastore"}, cfg.Credentials.Scopes)

	assert.True(t, cfg.Observability.Enabled)
	assert.Equal(t, "lookup", cfg.Observability.Service.Name)
	require.NotNil(t, cfg.Observability.Trace.SampleRate)
	assert.InDelta(t, 0.25, *cfg.Observability.Trace.SampleRate, 1e-9)

	assert.Equal(t, "my-project", cfg.GetString("app.project"))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeYAML(t, `
transport:
  service: storage
  pool:
    size: 8
`)
	t.Setenv("GCLOUD_REQUESTS_TRANSPORT_SERVICE", "pubsub")
	t.Setenv("GCLOUD_REQUESTS_TRANSPORT_POOL_IDLETTL", "5m")
	t.Setenv("GCLOUD_REQUESTS_TRANSPORT_REFRESH_MAXATTEMPTS", "0")
	t.Setenv("GCLOUD_REQUESTS_WATCHER_ENABLED", "false")
	t.Setenv("GCLOUD_REQUESTS_CREDENTIALS_CLIENTID", "env-client")
	t.Setenv("GCLOUD_REQUESTS_CREDENTIALS_SCOPES", "scope-a, scope-b scope-c")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "pubsub", cfg.Transport.Service)
	assert.Equal(t, 8, cfg.Transport.Pool.Size)
	assert.Equal(t, 5*time.Minute, cfg.Transport.Pool.IdleTTL)
	assert.Equal(t, 0, cfg.Transport.Refresh.MaxAttempts)
	assert.False(t, cfg.Watcher.Enabled)
	assert.Equal(t, "env-client", cfg.Credentials.ClientID)
	assert.Equal(t, []string{"scope-a", "scope-b", "scope-c"}, cfg.Credentials.Scopes)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("GCLOUD_REQUESTS_TRANSPORT_SERVICE", "bigquery")

	_, err := LoadFile("")
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "invalid", cfgErr.Category)
	assert.Equal(t, "transport.service", cfgErr.Field)
	assert.Contains(t, err.Error(), "must be one of: datastore, storage, pubsub, default")
}

func TestLoadBytes(t *testing.T) {
	cfg, err := LoadBytes([]byte("transport:\n  service: pubsub\n  backoff:\n    cap: 2s\n"))
	require.NoError(t, err)
	assert.Equal(t, "pubsub", cfg.Transport.Service)
	assert.Equal(t, 2*time.Second, cfg.Transport.Backoff.Cap)
	assert.Equal(t, 62500*time.Microsecond, cfg.Transport.Backoff.Base)

	_, err = LoadBytes([]byte("transport: [unterminated"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeYAML(t, "transport: [unterminated")
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestTransformEnv(t *testing.T) {
	key, value := transformEnv("GCLOUD_REQUESTS_TRANSPORT_TIMEOUT_READ", "5s")
	assert.Equal(t, "transport.timeout.read", key)
	assert.Equal(t, "5s", value)

	key, value = transformEnv("GCLOUD_REQUESTS_CREDENTIALS_SCOPES", "a,b")
	assert.Equal(t, "credentials.scopes", key)
	assert.Equal(t, []string{"a", "b"}, value)
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "GCLOUD_REQUESTS_TRANSPORT_POOL_SIZE", EnvVar("transport.pool.size"))
}

func TestAccessors(t *testing.T) {
	path := writeYAML(t, `
custom:
  name: value
  count: 3
  flag: true
  wait: 250ms
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "value", cfg.GetString("custom.name"))
	assert.Equal(t, "fallback", cfg.GetString("custom.missing", "fallback"))
	assert.Equal(t, 3, cfg.GetInt("custom.count"))
	assert.Equal(t, 7, cfg.GetInt("custom.missing", 7))
	assert.True(t, cfg.GetBool("custom.flag"))
	assert.Equal(t, 250*time.Millisecond, cfg.GetDuration("custom.wait"))
	assert.Equal(t, time.Second, cfg.GetDuration("custom.missing", time.Second))

	_, err = cfg.GetRequiredString("custom.missing")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "missing", cfgErr.Category)

	var empty *Config
	assert.False(t, empty.Exists("custom.name"))
	assert.Equal(t, "x", empty.GetString("custom.name", "x"))
}
