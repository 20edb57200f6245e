package gotrack

import (
	"reflect"

	"github.com/google/uuid"
)

// ValueGenerator produces values for generate-on-add properties. Calls
// are synchronous and local; generators backed by a store sequence belong
// to the layer above the tracker.
type ValueGenerator interface {
	Next(p *Property) any
	// GeneratesTemporaryValues reports whether produced values are
	// placeholders the store replaces on save.
	GeneratesTemporaryValues() bool
}

type funcGenerator struct {
	next      func(p *Property) any
	temporary bool
}

// NewValueGenerator adapts a function to ValueGenerator.
func NewValueGenerator(next func(p *Property) any, temporary bool) ValueGenerator {
	return funcGenerator{next: next, temporary: temporary}
}

func (g funcGenerator) Next(p *Property) any { return g.next(p) }

func (g funcGenerator) GeneratesTemporaryValues() bool { return g.temporary }

// TemporaryIntegerGenerator hands out descending placeholders (-1, -2, ...
// with the default seed) converted to the property's integer type.
type TemporaryIntegerGenerator struct {
	next int64
}

func NewTemporaryIntegerGenerator(seed int64) *TemporaryIntegerGenerator {
	return &TemporaryIntegerGenerator{next: seed}
}

func (g *TemporaryIntegerGenerator) Next(p *Property) any {
	v := reflect.New(p.typ).Elem()
	switch p.typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.OverflowInt(g.next) {
			fault(MetadataFault, "TemporaryIntegerGenerator.Next", "placeholder %d overflows %s of type %v", g.next, p, p.typ)
		}
		v.SetInt(g.next)
	default:
		fault(MetadataFault, "TemporaryIntegerGenerator.Next", "%s of type %v is not a signed integer", p, p.typ)
	}
	g.next--
	return v.Interface()
}

func (g *TemporaryIntegerGenerator) GeneratesTemporaryValues() bool { return true }

// UUIDGenerator produces final random UUIDs for uuid.UUID, string and
// []byte properties.
type UUIDGenerator struct{}

var uuidType = reflect.TypeOf(uuid.UUID{})

func (UUIDGenerator) Next(p *Property) any {
	id := uuid.New()
	switch {
	case p.typ == uuidType:
		return id
	case p.typ.Kind() == reflect.String:
		return reflect.ValueOf(id.String()).Convert(p.typ).Interface()
	case p.typ.Kind() == reflect.Slice && p.typ.Elem().Kind() == reflect.Uint8:
		b := make([]byte, len(id))
		copy(b, id[:])
		return reflect.ValueOf(b).Convert(p.typ).Interface()
	}
	fault(MetadataFault, "UUIDGenerator.Next", "%s of type %v cannot hold a UUID", p, p.typ)
	return nil
}

func (UUIDGenerator) GeneratesTemporaryValues() bool { return false }

// ValueGeneratorSelector picks the generator for a property, or nil if
// none applies.
type ValueGeneratorSelector func(p *Property) ValueGenerator

// DefaultValueGeneratorSelector uses temporary integer placeholders for
// signed integer properties and random UUIDs for UUID, string and []byte
// properties.
func DefaultValueGeneratorSelector(seed int64) ValueGeneratorSelector {
	return func(p *Property) ValueGenerator {
		switch {
		case p.typ == uuidType:
			return UUIDGenerator{}
		case p.typ.Kind() == reflect.String:
			return UUIDGenerator{}
		case p.typ.Kind() == reflect.Slice && p.typ.Elem().Kind() == reflect.Uint8:
			return UUIDGenerator{}
		}
		switch p.typ.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return NewTemporaryIntegerGenerator(seed)
		}
		return nil
	}
}

// ValueGeneratorCache keeps one generator per property for the lifetime
// of a session, so placeholder sequences do not restart.
type ValueGeneratorCache struct {
	selector   ValueGeneratorSelector
	generators map[*Property]ValueGenerator
}

// NewValueGeneratorCache creates a cache over selector; nil selects the defaults.
func NewValueGeneratorCache(selector ValueGeneratorSelector) *ValueGeneratorCache {
	if selector == nil {
		selector = DefaultValueGeneratorSelector(DefaultTemporaryKeySeed)
	}
	return &ValueGeneratorCache{selector: selector, generators: map[*Property]ValueGenerator{}}
}

// GetGenerator returns the cached generator for p, selecting one on first use.
func (c *ValueGeneratorCache) GetGenerator(p *Property) ValueGenerator {
	if p == nil {
		fault(ArgumentFault, "ValueGeneratorCache.GetGenerator", "nil property")
	}
	if g, ok := c.generators[p]; ok {
		return g
	}
	g := c.selector(p)
	if g != nil {
		c.generators[p] = g
	}
	return g
}

// SetGenerator pins the generator used for p.
func (c *ValueGeneratorCache) SetGenerator(p *Property, g ValueGenerator) {
	if p == nil {
		fault(ArgumentFault, "ValueGeneratorCache.SetGenerator", "nil property")
	}
	if g == nil {
		delete(c.generators, p)
		return
	}
	c.generators[p] = g
}
