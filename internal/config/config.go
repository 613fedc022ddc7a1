// Package config provides configuration types and defaults for the whiteboard.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/whiteboard/internal/flags"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/tracing"
)

// Config holds all configuration options.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Flags     map[string]bool `mapstructure:"flags"`
}

// HTTPConfig configures the HTTP host and the bus servlet.
type HTTPConfig struct {
	Addr           string `mapstructure:"addr"`
	ContextPath    string `mapstructure:"context_path"`    // prefix of the bus servlet pattern
	ServletRanking int    `mapstructure:"servlet_ranking"` // -1 keeps explicit servlets in front
}

// ProvidersConfig locates the provider declarations.
type ProvidersConfig struct {
	Dir      string        `mapstructure:"dir"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// JournalConfig configures the activation journal.
type JournalConfig struct {
	Path       string `mapstructure:"path"`        // SQLite file, used with the journal flag
	MaxEntries int    `mapstructure:"max_entries"` // in-memory journal bound
}

// CacheConfig configures the registry caches.
type CacheConfig struct {
	FilterTTL time.Duration `mapstructure:"filter_ttl"`
}

// DefaultDir returns ~/.config/whiteboard, or .whiteboard when the home
// directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".whiteboard"
	}
	return filepath.Join(home, ".config", "whiteboard")
}

// DefaultJournalPath returns the default SQLite journal location.
func DefaultJournalPath() string {
	return filepath.Join(DefaultDir(), "journal.db")
}

// DefaultTracesFilePath returns the default path for the file trace exporter.
func DefaultTracesFilePath() string {
	return filepath.Join(DefaultDir(), "traces", "traces.jsonl")
}

// Defaults returns a Config with default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		HTTP: HTTPConfig{
			Addr:           "localhost:8080",
			ContextPath:    "",
			ServletRanking: -1,
		},
		Providers: ProvidersConfig{
			Dir:      "providers",
			Watch:    true,
			Debounce: 250 * time.Millisecond,
		},
		Journal: JournalConfig{
			Path:       DefaultJournalPath(),
			MaxEntries: 1000,
		},
		Tracing: tc,
		Cache: CacheConfig{
			FilterTTL: 10 * time.Minute,
		},
		Flags: map[string]bool{
			flags.FlagJournal:        false,
			flags.FlagWatchProviders: true,
		},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := ValidateHTTP(c.HTTP); err != nil {
		return err
	}
	if err := ValidateProviders(c.Providers); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateHTTP checks the listen address and context path.
func ValidateHTTP(h HTTPConfig) error {
	if h.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if _, _, err := net.SplitHostPort(h.Addr); err != nil {
		return fmt.Errorf("http.addr %q: %w", h.Addr, err)
	}
	if strings.ContainsAny(h.ContextPath, "*{}") {
		return fmt.Errorf("http.context_path %q must be a plain path", h.ContextPath)
	}
	return nil
}

// ValidateProviders checks the declarations settings.
func ValidateProviders(p ProvidersConfig) error {
	if p.Debounce < 0 {
		return fmt.Errorf("providers.debounce must not be negative, got %v", p.Debounce)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Empty values use defaults.
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as YAML with comments.
func DefaultConfigTemplate() string {
	return `# Whiteboard Configuration

http:
  addr: localhost:8080
  # context_path: /rest     # mount the REST bus below this prefix
  servlet_ranking: -1       # ranking of the bus servlet in the HTTP host

# Provider declarations (*.yaml) registered at startup
providers:
  dir: providers
  watch: true               # reload on change (also needs the watch-providers flag)
  debounce: 250ms

journal:
  # path: ~/.config/whiteboard/journal.db   # used when the journal flag is on
  max_entries: 1000                          # bound of the in-memory journal

cache:
  filter_ttl: 10m           # lifetime of compiled registry filters

# tracing:
#   enabled: false
#   exporter: file          # none, file, stdout, otlp
#   file_path: ~/.config/whiteboard/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

flags:
  journal: false            # persist the activation journal to SQLite
  watch-providers: true     # reload provider declarations on change
`
}

// WriteDefaultConfig creates a config file at configPath with default
// settings and comments, creating the parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
