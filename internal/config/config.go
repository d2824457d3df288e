// Package config loads phiguard settings with koanf. Precedence, lowest
// first: built-in defaults, an optional YAML file, PHIGUARD_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is prepended to upper-cased keys to form environment names.
const EnvPrefix = "PHIGUARD_"

// Strategies for choosing between the deterministic and assisted paths.
const (
	StrategyAuto          = "auto"
	StrategyDeterministic = "deterministic"
	StrategyAssisted      = "assisted"
)

// DefaultRetentionDays is roughly seven years.
const DefaultRetentionDays = 2555

// Config holds every runtime setting. It is built once and passed down.
type Config struct {
	AuditDir         string        `koanf:"audit_dir"`
	RetentionDays    int           `koanf:"retention_days"`
	AuditKeyFile     string        `koanf:"audit_key_file"`
	AuditKey         string        `koanf:"audit_key"`
	Model            string        `koanf:"model"`
	Strategy         string        `koanf:"strategy"`
	AssistedTimeout  time.Duration `koanf:"assisted_timeout"`
	Temperature      float64       `koanf:"temperature"`
	MaxTokens        int           `koanf:"max_tokens"`
	VerifyAssisted   bool          `koanf:"verify_assisted"`
	AssistedRate     float64       `koanf:"assisted_rate"`
	AssistedBurst    int           `koanf:"assisted_burst"`
	EmitBuffer       int           `koanf:"emit_buffer"`
	EmitWorkers      int           `koanf:"emit_workers"`
	QueryConcurrency int           `koanf:"query_concurrency"`
	LogLevel         string        `koanf:"log_level"`
}

// Validation errors.
var (
	ErrNegativeRetention   = errors.New("retention_days must not be negative")
	ErrUnknownStrategy     = errors.New("strategy must be auto, deterministic or assisted")
	ErrAssistedNeedsModel  = errors.New("strategy assisted requires model")
	ErrTemperatureRange    = errors.New("temperature must be between 0 and 2")
	ErrNonPositiveTokens   = errors.New("max_tokens must be positive")
	ErrNonPositiveTimeout  = errors.New("assisted_timeout must be positive")
	ErrNegativeRate        = errors.New("assisted_rate must not be negative")
	ErrNonPositiveBurst    = errors.New("assisted_burst must be positive")
	ErrNonPositiveBuffer   = errors.New("emit_buffer must be positive")
	ErrNonPositiveWorkers  = errors.New("emit_workers must be positive")
	ErrNonPositiveQuery    = errors.New("query_concurrency must be positive")
	ErrMissingAuditDir     = errors.New("audit_dir is required")
	ErrConflictingKeySpecs = errors.New("set only one of audit_key and audit_key_file")
)

func defaults() map[string]any {
	return map[string]any{
		"audit_dir":         "./audit",
		"retention_days":    DefaultRetentionDays,
		"audit_key_file":    "",
		"audit_key":         "",
		"model":             "",
		"strategy":          StrategyAuto,
		"assisted_timeout":  "30s",
		"temperature":       0.0,
		"max_tokens":        4096,
		"verify_assisted":   true,
		"assisted_rate":     2.0,
		"assisted_burst":    4,
		"emit_buffer":       1024,
		"emit_workers":      4,
		"query_concurrency": 8,
		"log_level":         "info",
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := load("", func(string) (string, bool) { return "", false })
	if err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads configuration from defaults, the optional YAML file at path and
// the environment. It does not validate; call Validate.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	for key := range defaults() {
		if val, ok := lookup(EnvPrefix + strings.ToUpper(key)); ok && val != "" {
			if err := k.Set(key, val); err != nil {
				return nil, fmt.Errorf("setting %s from environment: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	return &cfg, nil
}

// Validate returns every violation joined into one error, or nil.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuditDir) == "" {
		errs = append(errs, ErrMissingAuditDir)
	}
	if c.RetentionDays < 0 {
		errs = append(errs, ErrNegativeRetention)
	}
	switch c.Strategy {
	case StrategyAuto, StrategyDeterministic:
	case StrategyAssisted:
		if c.Model == "" {
			errs = append(errs, ErrAssistedNeedsModel)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrUnknownStrategy, c.Strategy))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, ErrTemperatureRange)
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, ErrNonPositiveTokens)
	}
	if c.AssistedTimeout <= 0 {
		errs = append(errs, ErrNonPositiveTimeout)
	}
	if c.AssistedRate < 0 {
		errs = append(errs, ErrNegativeRate)
	}
	if c.AssistedBurst <= 0 {
		errs = append(errs, ErrNonPositiveBurst)
	}
	if c.EmitBuffer <= 0 {
		errs = append(errs, ErrNonPositiveBuffer)
	}
	if c.EmitWorkers <= 0 {
		errs = append(errs, ErrNonPositiveWorkers)
	}
	if c.QueryConcurrency <= 0 {
		errs = append(errs, ErrNonPositiveQuery)
	}
	if c.AuditKey != "" && c.AuditKeyFile != "" {
		errs = append(errs, ErrConflictingKeySpecs)
	}
	return errors.Join(errs...)
}

// AssistedEnabled reports whether a model is configured.
func (c *Config) AssistedEnabled() bool {
	return c.Model != "" && c.Strategy != StrategyDeterministic
}
