// Package config loads the settings file shared by the searchkit binaries.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/letmevibethatforyou/searchkit"
	"github.com/letmevibethatforyou/searchkit/algolia"
	"github.com/letmevibethatforyou/searchkit/inmemory"
)

// Backend kinds.
const (
	BackendHTTP     = "http"
	BackendAlgolia  = "algolia"
	BackendInMemory = "inmemory"
)

// Config holds the settings of a searchkit host process.
type Config struct {
	Session    SessionConfig    `yaml:"session"`
	Backend    BackendConfig    `yaml:"backend"`
	Client     ClientConfig     `yaml:"client"`
	Controller ControllerConfig `yaml:"controller"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SessionConfig holds the session credentials. When SecretID is set the
// credentials are read from AWS Secrets Manager instead.
type SessionConfig struct {
	APIKey   string `yaml:"api_key"`
	URL      string `yaml:"url"`
	SecretID string `yaml:"secret_id"`
}

// BackendConfig selects and configures the transport.
type BackendConfig struct {
	Kind     string         `yaml:"kind"` // http (default), algolia, inmemory
	Timeout  time.Duration  `yaml:"timeout"`
	Algolia  AlgoliaConfig  `yaml:"algolia"`
	InMemory InMemoryConfig `yaml:"inmemory"`
}

// AlgoliaConfig holds Algolia transport settings.
type AlgoliaConfig struct {
	Index string `yaml:"index"`
	AppID string `yaml:"app_id"` // derived from session.url when empty
}

// InMemoryConfig holds in-memory transport settings.
type InMemoryConfig struct {
	Corpus  string        `yaml:"corpus"` // JSON array of documents
	APIKey  string        `yaml:"api_key"`
	Latency time.Duration `yaml:"latency"`
}

// ClientConfig holds query client settings.
type ClientConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ControllerConfig holds search controller settings.
type ControllerConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Limit    int           `yaml:"limit"`
}

// CacheConfig holds the shared DynamoDB cache settings. An empty table
// disables it.
type CacheConfig struct {
	Table string `yaml:"table"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads, expands and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(data)
}

// Parse expands ${VAR} references in data and decodes it.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendHTTP
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Client.TTL == 0 {
		c.Client.TTL = searchkit.DefaultTTL
	}
	if c.Client.MaxEntries <= 0 {
		c.Client.MaxEntries = searchkit.DefaultMaxEntries
	}
	if c.Controller.Debounce <= 0 {
		c.Controller.Debounce = searchkit.DefaultDebounce
	}
	if c.Controller.Limit <= 0 {
		c.Controller.Limit = searchkit.DefaultLimit
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for correctness. Session credentials
// are not required: a host without them runs an unconfigured session.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendHTTP:
	case BackendAlgolia:
		if c.Backend.Algolia.Index == "" {
			return errors.New("backend.algolia.index is required")
		}
	case BackendInMemory:
		if c.Backend.InMemory.Corpus == "" {
			return errors.New("backend.inmemory.corpus is required")
		}
	default:
		return errors.Newf("backend.kind must be %q, %q or %q, got %q",
			BackendHTTP, BackendAlgolia, BackendInMemory, c.Backend.Kind)
	}
	if c.Client.TTL < 0 {
		return errors.Newf("client.ttl must not be negative, got %s", c.Client.TTL)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.Newf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// Transport builds the configured transport.
func (c *Config) Transport() (searchkit.Transport, error) {
	switch c.Backend.Kind {
	case BackendAlgolia:
		var opts []algolia.Option
		if c.Backend.Algolia.AppID != "" {
			opts = append(opts, algolia.WithAppID(c.Backend.Algolia.AppID))
		}
		return algolia.New(c.Backend.Algolia.Index, opts...), nil
	case BackendInMemory:
		data, err := os.ReadFile(filepath.Clean(c.Backend.InMemory.Corpus))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read corpus %s", c.Backend.InMemory.Corpus)
		}
		store := inmemory.New(
			inmemory.WithAPIKey(c.Backend.InMemory.APIKey),
			inmemory.WithLatency(c.Backend.InMemory.Latency),
		)
		if _, err := store.LoadJSON(data); err != nil {
			return nil, errors.Wrapf(err, "failed to load corpus %s", c.Backend.InMemory.Corpus)
		}
		return store, nil
	default:
		return searchkit.NewHTTPTransport(searchkit.WithHTTPTimeout(c.Backend.Timeout)), nil
	}
}

// ClientOptions maps the client settings onto query client options.
func (c *Config) ClientOptions() []searchkit.Option {
	return []searchkit.Option{
		searchkit.WithTTL(c.Client.TTL),
		searchkit.WithMaxEntries(c.Client.MaxEntries),
	}
}

// ControllerOptions maps the controller settings onto controller options.
func (c *Config) ControllerOptions() []searchkit.ControllerOption {
	return []searchkit.ControllerOption{
		searchkit.WithDebounce(c.Controller.Debounce),
		searchkit.WithBaseQuery(searchkit.WithLimit(c.Controller.Limit)),
	}
}

// Logger builds the configured slog logger writing to stderr.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Newf("logging.level must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
