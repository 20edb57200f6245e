package gotrack

import (
	"go.uber.org/zap"
)

// ValueGenerationManager fills in keys and foreign keys of entries that
// are about to be inserted.
type ValueGenerationManager struct {
	generators *ValueGeneratorCache
	propagator *ForeignKeyValuePropagator
	logger     *zap.Logger
}

func NewValueGenerationManager(generators *ValueGeneratorCache, propagator *ForeignKeyValuePropagator, logger *zap.Logger) *ValueGenerationManager {
	if generators == nil {
		fault(ArgumentFault, "NewValueGenerationManager", "nil generator cache")
	}
	if propagator == nil {
		fault(ArgumentFault, "NewValueGenerationManager", "nil foreign key propagator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValueGenerationManager{generators: generators, propagator: propagator, logger: logger}
}

// Generate visits every generate-on-add or foreign key property of entry
// that still holds its sentinel. Foreign keys are only ever propagated
// from their principal; other properties get the next generator value.
func (m *ValueGenerationManager) Generate(entry *Entry) {
	if entry == nil {
		fault(ArgumentFault, "Generate", "nil entry")
	}
	for _, p := range entry.typ.properties {
		isForeignKey := p.IsForeignKey()
		if !p.generateOnAdd && !isForeignKey {
			continue
		}
		if !p.IsSentinelValue(entry.ReadProperty(p)) {
			continue
		}
		if isForeignKey {
			m.propagator.PropagateValue(entry, p)
			continue
		}
		g := m.generators.GetGenerator(p)
		if g == nil {
			fault(MetadataFault, "Generate", "no value generator for %s", p)
		}
		m.setGeneratedValue(entry, p, g.Next(p), g.GeneratesTemporaryValues())
	}
}

// MayGetTemporaryValue reports whether p can end up holding a placeholder
// after generation.
func (m *ValueGenerationManager) MayGetTemporaryValue(p *Property) bool {
	if p == nil {
		fault(ArgumentFault, "MayGetTemporaryValue", "nil property")
	}
	if !p.generateOnAdd {
		return false
	}
	g := m.generators.GetGenerator(p)
	return g != nil && g.GeneratesTemporaryValues()
}

func (m *ValueGenerationManager) setGeneratedValue(entry *Entry, p *Property, v any, temporary bool) {
	if isNil(v) {
		return
	}
	entry.WriteProperty(p, v)
	if temporary {
		entry.MarkAsTemporary(p)
	}
	m.logger.Debug("value generated",
		zap.String("entity", entry.typ.name),
		zap.String("property", p.name),
		zap.Bool("temporary", temporary),
	)
}
