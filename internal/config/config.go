// Package config loads messagebridge's persisted JSON configuration,
// layered with compiled-in defaults and environment variable overrides, per
// spec.md §6's "single JSON configuration file" contract.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ModelMapping is the per-family upstream model substitution table used by
// the Request Translator in Translated mode.
type ModelMapping struct {
	Sonnet  string `koanf:"sonnet" json:"sonnet"`
	Opus    string `koanf:"opus" json:"opus"`
	Haiku   string `koanf:"haiku" json:"haiku"`
	Default string `koanf:"default" json:"default"`
}

// Config is the merged, validated configuration driving a messagebridge
// process. Secrets are deliberately absent: OPENROUTER_API_KEY and inbound
// client credentials are read from the environment/request at point of use,
// never from this struct or the file it was loaded from.
type Config struct {
	Bind              string        `koanf:"bind" json:"bind" validate:"required,hostname_port"`
	Mode              string        `koanf:"mode" json:"mode" validate:"oneof=direct translated"`
	AnthropicBaseURL  string        `koanf:"anthropic_base_url" json:"anthropic_base_url" validate:"required,url"`
	OpenRouterBaseURL string        `koanf:"openrouter_base_url" json:"openrouter_base_url" validate:"required,url"`
	Models            ModelMapping  `koanf:"models" json:"models"`
	BlockedTools      []string      `koanf:"blocked_tools" json:"blocked_tools"`
	RequestTimeout    time.Duration `koanf:"request_timeout" json:"request_timeout" validate:"required,min=1000000000"`
	LogLevel          string        `koanf:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat         string        `koanf:"log_format" json:"log_format" validate:"oneof=json text"`
	StoreCapacity     int           `koanf:"store_capacity" json:"store_capacity" validate:"min=1"`
	RetentionHours    int           `koanf:"retention_hours" json:"retention_hours" validate:"min=0"`
}

// defaults mirrors spec.md §6's "bind address 127.0.0.1:4000, capacity 1000,
// timeout 120s" baseline, the lowest-precedence koanf layer.
var defaults = map[string]any{
	"bind":                "127.0.0.1:4000",
	"mode":                "direct",
	"anthropic_base_url":  "https://api.anthropic.com",
	"openrouter_base_url": "https://openrouter.ai/api",
	"request_timeout":     "120s",
	"log_level":           "info",
	"log_format":          "json",
	"store_capacity":      1000,
	"retention_hours":     24,
}

// Load builds a Config from, in ascending precedence: compiled-in defaults,
// the JSON file at path (path == "" skips this layer entirely; a non-empty
// path that does not exist is an error), and environment variables
// (ANTHROPIC_BASE_URL, OPENROUTER_BASE_URL, HOST, PORT, REQUEST_TIMEOUT,
// LOG_LEVEL).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			return envTransform(key), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := applyHostPortOverride(&cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envTransform maps the environment variable names spec.md §6 lists to the
// koanf keys Config is unmarshaled from. HOST and PORT are handled
// separately in applyHostPortOverride since they jointly override "bind".
func envTransform(key string) string {
	switch key {
	case "ANTHROPIC_BASE_URL":
		return "anthropic_base_url"
	case "OPENROUTER_BASE_URL":
		return "openrouter_base_url"
	case "REQUEST_TIMEOUT":
		return "request_timeout"
	case "LOG_LEVEL":
		return "log_level"
	default:
		return ""
	}
}

// applyHostPortOverride honors HOST/PORT environment variables by
// recombining them into Config.Bind, since koanf's flat key model has no
// single env var for "bind".
func applyHostPortOverride(cfg *Config) error {
	host := envOrEmpty("HOST")
	port := envOrEmpty("PORT")
	if host == "" && port == "" {
		return nil
	}
	if host == "" || port == "" {
		return fmt.Errorf("config: HOST and PORT must both be set to override bind address")
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("config: PORT %q is not a valid port number: %w", port, err)
	}
	cfg.Bind = host + ":" + port
	return nil
}

func envOrEmpty(key string) string {
	return os.Getenv(key)
}
