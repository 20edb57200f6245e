package gotrack

import (
	"go.uber.org/zap"
)

// DefaultTemporaryKeySeed is the first placeholder handed out for integer keys.
const DefaultTemporaryKeySeed int64 = -1

// Config defines the options of a tracking session.
type Config struct {
	TemporaryKeySeed    int64  `koanf:"temporary_key_seed"`    // first temporary integer key, -1 by default
	DeferOriginals      bool   `koanf:"defer_originals"`       // capture originals of struct entries lazily instead of at attach
	ManualDetectChanges bool   `koanf:"manual_detect_changes"` // SaveChanges does not call DetectChanges
	LogLevel            string `koanf:"log_level"`             // used by LoadConfig to build Logger

	Logger     *zap.Logger            `koanf:"-"`
	Generators ValueGeneratorSelector `koanf:"-"` // overrides the default generator choice
}

// New creates a StateManager over model with sensible defaults. The model
// is frozen from here on.
func New(model *Model, cfg Config) *StateManager {
	if model == nil {
		fault(ArgumentFault, "New", "nil model")
	}
	if cfg.TemporaryKeySeed == 0 {
		cfg.TemporaryKeySeed = DefaultTemporaryKeySeed
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Generators == nil {
		cfg.Generators = DefaultValueGeneratorSelector(cfg.TemporaryKeySeed)
	}
	model.freeze()

	logger := cfg.Logger.Named("gotrack")
	generators := NewValueGeneratorCache(cfg.Generators)
	propagator := NewForeignKeyValuePropagator(logger)
	return &StateManager{
		model:      model,
		cfg:        cfg,
		logger:     logger,
		generators: generators,
		propagator: propagator,
		generation: NewValueGenerationManager(generators, propagator, logger),
		byKey:      map[EntityKey]*Entry{},
		byRef:      map[any]*Entry{},
		keyOf:      map[*Entry]EntityKey{},
	}
}
