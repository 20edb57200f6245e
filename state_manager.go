package gotrack

import (
	"fmt"
	"reflect"
	"slices"

	"go.uber.org/zap"
)

// StateManager owns the entries of one unit of work and their identity
// map. It is not safe for concurrent use.
type StateManager struct {
	model      *Model
	cfg        Config
	logger     *zap.Logger
	generators *ValueGeneratorCache
	propagator *ForeignKeyValuePropagator
	generation *ValueGenerationManager

	byKey   map[EntityKey]*Entry
	byRef   map[any]*Entry // struct pointer, or the entry itself for shadow entries
	keyOf   map[*Entry]EntityKey
	entries []*Entry
}

func (sm *StateManager) Model() *Model { return sm.model }

func (sm *StateManager) Logger() *zap.Logger { return sm.logger }

func (sm *StateManager) Generators() *ValueGeneratorCache { return sm.generators }

func (sm *StateManager) ValueGeneration() *ValueGenerationManager { return sm.generation }

func (sm *StateManager) Propagator() *ForeignKeyValuePropagator { return sm.propagator }

// Attach starts tracking obj as Unchanged. obj must be a pointer to a
// registered struct with its key set. Attaching an already tracked object
// returns its entry.
func (sm *StateManager) Attach(obj any) (*Entry, error) {
	et, ptr, err := sm.resolve("attach", obj)
	if err != nil {
		return nil, err
	}
	if e, ok := sm.byRef[obj]; ok {
		return e, nil
	}
	e := newObjectEntry(sm, et, ptr, Unchanged)
	if _, ok := e.Key(); !ok && len(et.key) > 0 {
		return nil, fmt.Errorf("gotrack: attach %s: key is not set: %w", et.name, ErrInvalidArgument)
	}
	if err := sm.startTracking(e); err != nil {
		return nil, err
	}
	if !sm.cfg.DeferOriginals {
		e.OriginalValues().CaptureAll()
	}
	return e, nil
}

// Add starts tracking obj as Added and generates its missing values.
// Adding an already tracked object moves its entry to Added.
func (sm *StateManager) Add(obj any) (*Entry, error) {
	et, ptr, err := sm.resolve("add", obj)
	if err != nil {
		return nil, err
	}
	if e, ok := sm.byRef[obj]; ok {
		if err := e.SetState(Added); err != nil {
			return nil, err
		}
		return e, nil
	}
	e := newObjectEntry(sm, et, ptr, Added)
	if err := sm.startTracking(e); err != nil {
		return nil, err
	}
	sm.generation.Generate(e)
	return e, nil
}

// CreateEntry starts tracking a fresh instance of et as Added. Struct
// types get a newly allocated struct; no values are generated.
func (sm *StateManager) CreateEntry(et *EntityType) (*Entry, error) {
	if err := sm.checkType("create entry", et); err != nil {
		return nil, err
	}
	var e *Entry
	if et.IsShadow() {
		e = newShadowEntry(sm, et, Added)
	} else {
		e = newObjectEntry(sm, et, reflect.New(et.goType), Added)
	}
	if err := sm.startTracking(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Materialize builds an Unchanged entry from a raw row. The reader must
// expose one value per shadow slot for shadow types, or one per property
// for struct types. If the row's key is already tracked the existing
// entry is returned untouched.
func (sm *StateManager) Materialize(et *EntityType, r ValueReader) (*Entry, error) {
	const op = "materialize"
	if err := sm.checkType(op, et); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("gotrack: %s %s: nil value reader: %w", op, et.name, ErrInvalidArgument)
	}

	var e *Entry
	if et.IsShadow() {
		if r.Count() != et.shadowCount {
			return nil, fmt.Errorf("gotrack: %s %s: reader has %d values, type declares %d shadow properties: %w",
				op, et.name, r.Count(), et.shadowCount, ErrMetadataIntegrity)
		}
		e = newShadowEntry(sm, et, Unchanged)
	} else {
		if r.Count() != len(et.properties) {
			return nil, fmt.Errorf("gotrack: %s %s: reader has %d values, type declares %d properties: %w",
				op, et.name, r.Count(), len(et.properties), ErrMetadataIntegrity)
		}
		e = newObjectEntry(sm, et, reflect.New(et.goType), Unchanged)
	}
	for _, p := range et.properties {
		ordinal := p.index
		if et.IsShadow() {
			ordinal = p.shadowIndex
		}
		var v any
		if !r.IsNull(ordinal) {
			cv, err := p.ConvertValue(r.ReadValue(ordinal))
			if err != nil {
				return nil, fmt.Errorf("gotrack: %s %s: %w", op, et.name, err)
			}
			v = cv
		}
		e.WriteProperty(p, v)
	}

	if key, ok := e.Key(); ok {
		if existing, found := sm.byKey[key]; found {
			return existing, nil
		}
	}
	if err := sm.startTracking(e); err != nil {
		return nil, err
	}
	if e.mode == ObjectBacked && !sm.cfg.DeferOriginals {
		e.OriginalValues().CaptureAll()
	}
	return e, nil
}

// Entry returns the entry tracking obj.
func (sm *StateManager) Entry(obj any) (*Entry, bool) {
	if obj == nil {
		return nil, false
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, false
	}
	e, ok := sm.byRef[obj]
	return e, ok
}

// Find looks up a tracked entry by key values.
func (sm *StateManager) Find(et *EntityType, keyValues ...any) (*Entry, bool) {
	key, err := NewEntityKey(et, keyValues...)
	if err != nil {
		return nil, false
	}
	e, ok := sm.byKey[key]
	return e, ok
}

// Entries returns the tracked entries in tracking order.
func (sm *StateManager) Entries() []*Entry {
	return slices.Clone(sm.entries)
}

// Detach stops tracking e.
func (sm *StateManager) Detach(e *Entry) error {
	if e == nil {
		return fmt.Errorf("gotrack: detach: nil entry: %w", ErrInvalidArgument)
	}
	if e.manager != sm {
		return fmt.Errorf("gotrack: detach %s: entry belongs to another state manager: %w", e, ErrInvalidArgument)
	}
	return e.SetState(Detached)
}

// DetectChanges compares struct-backed entries with their captured
// originals and flags the properties that changed behind the entry's
// back. Navigation fields are resolved for foreign keys as well.
func (sm *StateManager) DetectChanges() {
	for _, e := range slices.Clone(sm.entries) {
		if e.mode != ObjectBacked || e.state == Deleted || e.state == Detached {
			continue
		}
		sm.rekey(e)
		if e.state == Unchanged || e.state == Modified {
			sm.detectPropertyChanges(e)
		}
		for _, fk := range e.typ.foreignKeys {
			if fk.navigate == nil {
				continue
			}
			if pe := e.Principal(fk); pe != nil {
				sm.propagator.propagate(e, fk, pe, e.state != Added)
			}
		}
	}
}

func (sm *StateManager) detectPropertyChanges(e *Entry) {
	if e.originals == nil {
		return
	}
	for _, p := range e.typ.properties {
		if p.isKey || p.IsShadowProperty() || !e.originals.IsCaptured(p) || e.modified.get(p.index) {
			continue
		}
		if !valuesEqual(e.originals.Get(p), e.ReadProperty(p)) {
			e.SetPropertyModified(p, true)
		}
	}
}

func (sm *StateManager) resolve(op string, obj any) (*EntityType, reflect.Value, error) {
	if obj == nil {
		return nil, reflect.Value{}, fmt.Errorf("gotrack: %s: nil entity: %w", op, ErrInvalidArgument)
	}
	ptr := reflect.ValueOf(obj)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Kind() != reflect.Struct {
		return nil, reflect.Value{}, fmt.Errorf("gotrack: %s: %T is not a non-nil struct pointer: %w", op, obj, ErrInvalidArgument)
	}
	et, ok := sm.model.EntityTypeOf(obj)
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("gotrack: %s %T: %w", op, obj, ErrUnknownEntityType)
	}
	return et, ptr, nil
}

func (sm *StateManager) checkType(op string, et *EntityType) error {
	if et == nil {
		return fmt.Errorf("gotrack: %s: nil entity type: %w", op, ErrInvalidArgument)
	}
	if et.model != sm.model {
		return fmt.Errorf("gotrack: %s %s: %w", op, et.name, ErrUnknownEntityType)
	}
	return nil
}

func (e *Entry) identity() any {
	if e.ref != nil {
		return e.ref
	}
	return e
}

func (sm *StateManager) startTracking(e *Entry) error {
	if key, ok := e.Key(); ok {
		if other, exists := sm.byKey[key]; exists && other != e {
			return fmt.Errorf("gotrack: track %s%s: %w", e.typ.name, key, ErrIdentityConflict)
		}
		sm.byKey[key] = e
		sm.keyOf[e] = key
	}
	sm.byRef[e.identity()] = e
	sm.entries = append(sm.entries, e)
	e.tracked = true
	sm.logger.Debug("tracking started",
		zap.String("entity", e.typ.name),
		zap.Stringer("state", e.state),
	)
	return nil
}

// rekey moves e in the identity map after one of its key properties changed.
func (sm *StateManager) rekey(e *Entry) {
	old, had := sm.keyOf[e]
	key, ok := e.Key()
	if had && ok && old == key {
		return
	}
	if ok {
		if other, exists := sm.byKey[key]; exists && other != e {
			fault(DomainFault, "rekey", "%s%s is already tracked", e.typ.name, key)
		}
	}
	if had {
		delete(sm.byKey, old)
		delete(sm.keyOf, e)
	}
	if ok {
		sm.byKey[key] = e
		sm.keyOf[e] = key
	}
}

func (sm *StateManager) stopTracking(e *Entry) {
	if !e.tracked {
		return
	}
	if key, ok := sm.keyOf[e]; ok {
		delete(sm.byKey, key)
		delete(sm.keyOf, e)
	}
	delete(sm.byRef, e.identity())
	if i := slices.Index(sm.entries, e); i >= 0 {
		sm.entries = slices.Delete(sm.entries, i, i+1)
	}
	e.tracked = false
	sm.logger.Debug("tracking stopped", zap.String("entity", e.typ.name))
}
