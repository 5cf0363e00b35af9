package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/LeadPages/gcloud-requests/pool"
	"github.com/LeadPages/gcloud-requests/retry"
)

const (
	// EnvPrefix marks environment variables read by Load.
	EnvPrefix = "GCLOUD_REQUESTS_"

	// DefaultFile is the optional YAML file read by Load.
	DefaultFile = "config.yaml"
)

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. config.yaml in the working directory, when present
// 3. Default values (lowest priority)
func Load() (*Config, error) {
	return LoadFile(DefaultFile)
}

// LoadFile is Load with an explicit YAML path. A missing file is skipped.
func LoadFile(path string) (*Config, error) {
	var src koanf.Provider
	if path != "" {
		src = file.Provider(path)
	}
	return load(src, path)
}

// LoadBytes is Load with YAML read from data instead of a file, e.g. an embedded config.
func LoadBytes(data []byte) (*Config, error) {
	return load(rawbytes.Provider(data), "yaml bytes")
}

func load(src koanf.Provider, name string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if src != nil {
		if err := k.Load(src, yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// transformEnv turns GCLOUD_REQUESTS_TRANSPORT_POOL_SIZE into transport.pool.size.
// List values are split on commas and whitespace.
func transformEnv(key, value string) (string, any) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_", ".")
	if strings.HasSuffix(key, ".scopes") {
		return key, strings.Fields(strings.ReplaceAll(value, ",", " "))
	}
	return key, value
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"log.level":  "info",
		"log.pretty": false,

		"transport.service":             "default",
		"transport.timeout.connect":     pool.DefaultConnectTimeout.String(),
		"transport.timeout.read":        pool.DefaultReadTimeout.String(),
		"transport.pool.size":           pool.DefaultPoolSize,
		"transport.pool.workers":        pool.DefaultMaxWorkers,
		"transport.pool.idlettl":        pool.DefaultIdleTTL.String(),
		"transport.refresh.maxattempts": 5,
		"transport.backoff.base":        retry.DefaultBackoff.Base.String(),
		"transport.backoff.cap":         retry.DefaultBackoff.Cap.String(),
		"transport.retries.transport":   pool.DefaultTransportRetries,

		"watcher.enabled": true,
		"watcher.maxwait": "1h",

		"observability.enabled": false,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
