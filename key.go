package gotrack

import (
	"fmt"
	"reflect"
	"strings"
)

// EntityKey identifies a tracked row within a session: an entity type and
// its primary key value. Composite keys are folded into a canonical string.
type EntityKey struct {
	typ   *EntityType
	value any
}

// NewEntityKey builds the identity-map key for the given key values.
func NewEntityKey(et *EntityType, values ...any) (EntityKey, error) {
	if et == nil {
		return EntityKey{}, fmt.Errorf("gotrack: entity key: %w", ErrInvalidArgument)
	}
	if len(values) != len(et.key) {
		return EntityKey{}, fmt.Errorf("gotrack: entity key for %s needs %d values, got %d", et.name, len(et.key), len(values))
	}
	return makeKey(et, values), nil
}

func makeKey(et *EntityType, values []any) EntityKey {
	if len(values) == 1 && values[0] != nil && reflect.ValueOf(values[0]).Comparable() {
		return EntityKey{typ: et, value: values[0]}
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return EntityKey{typ: et, value: strings.Join(parts, "\x1f")}
}

func (k EntityKey) EntityType() *EntityType { return k.typ }

func (k EntityKey) IsZero() bool { return k.typ == nil }

func (k EntityKey) String() string {
	if k.typ == nil {
		return "<none>"
	}
	if s, ok := k.value.(string); ok && strings.Contains(s, "\x1f") {
		return "(" + strings.ReplaceAll(s, "\x1f", ", ") + ")"
	}
	return fmt.Sprintf("(%v)", k.value)
}
