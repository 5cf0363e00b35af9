package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/LeadPages/gcloud-requests/observability"
)

// Config is the process-wide configuration for authenticated Google Cloud requests.
// Keys are single words per level so that every field can be set from the
// environment, e.g. GCLOUD_REQUESTS_TRANSPORT_POOL_IDLETTL maps to transport.pool.idlettl.
type Config struct {
	Log           LogConfig            `koanf:"log" json:"log" yaml:"log"`
	Transport     TransportConfig      `koanf:"transport" json:"transport" yaml:"transport"`
	Watcher       WatcherConfig        `koanf:"watcher" json:"watcher" yaml:"watcher"`
	Credentials   CredentialsConfig    `koanf:"credentials" json:"credentials" yaml:"credentials"`
	Observability observability.Config `koanf:"observability" json:"observability" yaml:"observability" validate:"-"`

	// k holds the underlying Koanf instance for access to keys outside the struct
	k *koanf.Koanf `json:"-" yaml:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// TransportConfig controls the authenticated request client.
type TransportConfig struct {
	// Service selects the retry strategy: datastore, storage, pubsub or default.
	Service string         `koanf:"service" json:"service" yaml:"service" validate:"omitempty,oneof=datastore storage pubsub default"`
	Timeout TimeoutConfig  `koanf:"timeout" json:"timeout" yaml:"timeout"`
	Pool    PoolConfig     `koanf:"pool" json:"pool" yaml:"pool"`
	Refresh RefreshConfig  `koanf:"refresh" json:"refresh" yaml:"refresh"`
	Backoff BackoffConfig  `koanf:"backoff" json:"backoff" yaml:"backoff"`
	Retries RetriesConfig  `koanf:"retries" json:"retries" yaml:"retries"`
	// DefaultHeaders are sent with every request unless the request overrides them.
	DefaultHeaders map[string]string `koanf:"defaultheaders" json:"defaultheaders" yaml:"defaultheaders"`
}

// TimeoutConfig holds per-attempt timeouts.
type TimeoutConfig struct {
	Connect time.Duration `koanf:"connect" json:"connect" yaml:"connect" validate:"gt=0"`
	Read    time.Duration `koanf:"read" json:"read" yaml:"read" validate:"gt=0"`
}

// PoolConfig sizes the per-worker connection cache.
type PoolConfig struct {
	// Size is the number of keep-alive connections per worker.
	Size    int           `koanf:"size" json:"size" yaml:"size" validate:"gt=0"`
	Workers int           `koanf:"workers" json:"workers" yaml:"workers" validate:"gt=0"`
	IdleTTL time.Duration `koanf:"idlettl" json:"idlettl" yaml:"idlettl" validate:"gt=0"`
}

// RefreshConfig bounds credential refreshes within one call.
type RefreshConfig struct {
	// MaxAttempts of zero disables reactive refreshes on 401.
	MaxAttempts int `koanf:"maxattempts" json:"maxattempts" yaml:"maxattempts" validate:"gte=0"`
}

// BackoffConfig is the capped exponential delay between resends.
type BackoffConfig struct {
	Base time.Duration `koanf:"base" json:"base" yaml:"base" validate:"gt=0"`
	Cap  time.Duration `koanf:"cap" json:"cap" yaml:"cap" validate:"gtefield=Base"`
}

// RetriesConfig controls transport-fault retries below the service strategy.
type RetriesConfig struct {
	// Transport is the number of connection-level retries. -1 disables them.
	Transport int `koanf:"transport" json:"transport" yaml:"transport" validate:"gte=-1"`
}

// WatcherConfig controls the background credential refresher.
type WatcherConfig struct {
	Enabled bool          `koanf:"enabled" json:"enabled" yaml:"enabled"`
	MaxWait time.Duration `koanf:"maxwait" json:"maxwait" yaml:"maxwait" validate:"gt=0"`
}

// CredentialsConfig describes an OAuth2 client credentials grant.
// Leaving ClientID empty means no credential is configured.
type CredentialsConfig struct {
	ClientID     string   `koanf:"clientid" json:"clientid" yaml:"clientid" validate:"required_with=ClientSecret TokenURL"`
	ClientSecret string   `koanf:"clientsecret" json:"-" yaml:"clientsecret"`
	TokenURL     string   `koanf:"tokenurl" json:"tokenurl" yaml:"tokenurl" validate:"omitempty,url"`
	Scopes       []string `koanf:"scopes" json:"scopes" yaml:"scopes"`
}

// Configured reports whether a client credentials grant is set up.
func (c CredentialsConfig) Configured() bool {
	return c.ClientID != ""
}
