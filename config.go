package gotrack

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes environment variables read by LoadConfig, e.g.
// GOTRACK_DEFER_ORIGINALS=true.
const EnvPrefix = "GOTRACK_"

// LoadConfig reads a Config from defaults, an optional YAML file and the
// environment, in that order of precedence from lowest to highest. An
// empty path skips the file.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"temporary_key_seed":    DefaultTemporaryKeySeed,
		"defer_originals":       false,
		"manual_detect_changes": false,
		"log_level":             "",
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, fmt.Errorf("gotrack: load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("gotrack: load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("gotrack: load config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("gotrack: decode config: %w", err)
	}

	if cfg.LogLevel != "" {
		logger, err := NewLogger(cfg.LogLevel)
		if err != nil {
			return Config{}, err
		}
		cfg.Logger = logger
	}
	return cfg, nil
}

// NewLogger builds a production zap logger at the named level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("gotrack: log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("gotrack: build logger: %w", err)
	}
	return logger, nil
}
