package gotrack

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// Entry is the state holder for one tracked instance. Entries are created
// by a StateManager and are not safe for concurrent use.
type Entry struct {
	manager *StateManager
	typ     *EntityType
	mode    StorageMode
	object  reflect.Value // addressable struct, ObjectBacked only
	ref     any           // pointer the object was tracked with
	slots   []any

	state     EntityState
	tracked   bool
	persisted bool

	modified    flags
	temporary   flags
	originals   *OriginalValues
	storeValues *StoreGeneratedValues
	// principals holds explicit links; a nil value records an explicit unlink.
	principals map[*ForeignKey]*Entry
}

func newObjectEntry(sm *StateManager, et *EntityType, ptr reflect.Value, state EntityState) *Entry {
	e := newEntry(sm, et, ObjectBacked, state)
	e.object = ptr.Elem()
	e.ref = ptr.Interface()
	return e
}

func newShadowEntry(sm *StateManager, et *EntityType, state EntityState) *Entry {
	return newEntry(sm, et, ShadowBacked, state)
}

func newEntry(sm *StateManager, et *EntityType, mode StorageMode, state EntityState) *Entry {
	n := len(et.properties)
	return &Entry{
		manager:   sm,
		typ:       et,
		mode:      mode,
		slots:     make([]any, et.shadowCount),
		state:     state,
		persisted: state != Added,
		modified:  newFlags(n),
		temporary: newFlags(n),
	}
}

func (e *Entry) EntityType() *EntityType { return e.typ }

// Entity returns the tracked struct pointer, or nil for shadow entries.
func (e *Entry) Entity() any { return e.ref }

func (e *Entry) Mode() StorageMode { return e.mode }

func (e *Entry) State() EntityState { return e.state }

// ShadowValueCount is the number of shadow slots the entry carries.
func (e *Entry) ShadowValueCount() int { return len(e.slots) }

// ReadProperty returns the current value of p.
func (e *Entry) ReadProperty(p *Property) any {
	const op = "ReadProperty"
	e.checkProperty(op, p)
	if e.mode == ShadowBacked || p.IsShadowProperty() {
		return e.slots[e.shadowSlot(op, p)]
	}
	return p.get(e.object)
}

// WriteProperty sets the current value of p without recording a
// modification or capturing an original value. Generation, propagation
// and hydration write through here; SetValue is the tracked path.
func (e *Entry) WriteProperty(p *Property, v any) {
	const op = "WriteProperty"
	e.checkProperty(op, p)
	if !p.assignable(v) {
		fault(ArgumentFault, op, "%T is not assignable to %s of type %v", v, p, p.typ)
	}
	if e.mode == ShadowBacked || p.IsShadowProperty() {
		e.slots[e.shadowSlot(op, p)] = v
	} else {
		p.set(e.object, v)
	}
	if p.isKey && e.tracked {
		e.manager.rekey(e)
	}
}

// SetValue is the tracked write path. It captures the original value on
// first change and, for Unchanged or Modified entries, flags p as
// modified unless v restores the original.
func (e *Entry) SetValue(p *Property, v any) {
	e.setValue(p, v, false)
}

func (e *Entry) setValue(p *Property, v any, keepLinks bool) {
	const op = "SetValue"
	e.checkProperty(op, p)
	if p.isKey && e.state != Added && e.state != Detached {
		fault(DomainFault, op, "key property %s of a %s entry cannot be changed", p, e.state)
	}
	if valuesEqual(e.ReadProperty(p), v) {
		return
	}
	if e.state == Detached {
		e.WriteProperty(p, v)
		return
	}
	originals := e.OriginalValues()
	originals.Capture(p)
	e.WriteProperty(p, v)
	e.temporary.set(p.index, false)
	if !keepLinks && p.IsForeignKey() {
		for _, fk := range p.foreignKeys {
			e.unlink(fk)
		}
	}
	if e.state == Unchanged || e.state == Modified {
		e.SetPropertyModified(p, !valuesEqual(originals.Get(p), v))
	}
}

// SetPropertyModified flags or clears p as modified. Marking a property of
// an Unchanged entry moves it to Modified; clearing the last flag of a
// Modified entry moves it back to Unchanged. Added and Deleted entries keep
// no per-property flags.
func (e *Entry) SetPropertyModified(p *Property, modified bool) {
	const op = "SetPropertyModified"
	e.checkProperty(op, p)
	if p.isKey && modified {
		fault(DomainFault, op, "key property %s cannot be marked modified", p)
	}
	if e.state != Unchanged && e.state != Modified {
		return
	}
	if modified {
		e.OriginalValues().Capture(p)
		e.modified.set(p.index, true)
		if e.state == Unchanged {
			e.transition(Modified)
		}
		return
	}
	e.modified.set(p.index, false)
	if e.state == Modified && !e.modified.any() {
		e.transition(Unchanged)
	}
}

func (e *Entry) IsPropertyModified(p *Property) bool {
	e.checkProperty("IsPropertyModified", p)
	return e.modified.get(p.index)
}

// ModifiedProperties returns the flagged properties in ordinal order.
func (e *Entry) ModifiedProperties() []*Property {
	var out []*Property
	for _, p := range e.typ.properties {
		if e.modified.get(p.index) {
			out = append(out, p)
		}
	}
	return out
}

// MarkAsTemporary flags the current value of p as a placeholder the store
// replaces on save.
func (e *Entry) MarkAsTemporary(p *Property) {
	e.checkProperty("MarkAsTemporary", p)
	e.temporary.set(p.index, true)
}

func (e *Entry) IsTemporary(p *Property) bool {
	e.checkProperty("IsTemporary", p)
	return e.temporary.get(p.index)
}

func (e *Entry) HasTemporaryValues() bool { return e.temporary.any() }

// OriginalValues returns the entry's sidecar, creating it on first use.
func (e *Entry) OriginalValues() *OriginalValues {
	if e.originals == nil {
		e.originals = OriginalValuesFactory{}.Create(e)
	}
	return e.originals
}

func (e *Entry) OriginalValue(p *Property) any {
	return e.OriginalValues().Get(p)
}

// StoreGeneratedValues returns the values reported by the store during
// the save in progress, creating the sidecar on first use.
func (e *Entry) StoreGeneratedValues() *StoreGeneratedValues {
	if e.storeValues == nil {
		e.storeValues = newStoreGeneratedValues(e)
	}
	return e.storeValues
}

// Key returns the entry's primary key once every key property holds a
// non-sentinel value.
func (e *Entry) Key() (EntityKey, bool) {
	key := e.typ.key
	if len(key) == 0 {
		return EntityKey{}, false
	}
	vals := make([]any, len(key))
	for i, p := range key {
		v := e.ReadProperty(p)
		if p.IsSentinelValue(v) {
			return EntityKey{}, false
		}
		vals[i] = v
	}
	return makeKey(e.typ, vals), true
}

// Property returns a view over one named property.
func (e *Entry) Property(name string) *PropertyEntry {
	if name == "" {
		fault(ArgumentFault, "Property", "empty property name")
	}
	p, ok := e.typ.byName[name]
	if !ok {
		fault(MetadataFault, "Property", "%s has no property %q", e.typ.name, name)
	}
	return &PropertyEntry{entry: e, property: p}
}

// SetPrincipal links the entry to the principal of fk and propagates the
// principal's key into the foreign key properties. A nil principal
// unlinks.
func (e *Entry) SetPrincipal(fk *ForeignKey, principal *Entry) error {
	if fk == nil {
		return fmt.Errorf("gotrack: set principal: nil foreign key: %w", ErrInvalidArgument)
	}
	if fk.dependent != e.typ {
		return fmt.Errorf("gotrack: set principal: %s is not declared on %s: %w", fk, e.typ.name, ErrMetadataIntegrity)
	}
	if principal != nil && principal.typ != fk.principal {
		return fmt.Errorf("gotrack: set principal: %s expects %s, got %s: %w", fk, fk.principal.name, principal.typ.name, ErrMetadataIntegrity)
	}
	if e.state == Detached || (principal != nil && principal.state == Detached) {
		return ErrDetached
	}
	if e.principals == nil {
		e.principals = map[*ForeignKey]*Entry{}
	}
	e.principals[fk] = principal
	if principal != nil {
		e.manager.propagator.propagate(e, fk, principal, e.state != Added)
	}
	return nil
}

// Principal resolves the principal entry of fk from the explicit link or,
// failing that, from the navigation field of the tracked struct.
func (e *Entry) Principal(fk *ForeignKey) *Entry {
	if pe, ok := e.principals[fk]; ok {
		if pe == nil || pe.state == Detached {
			return nil
		}
		return pe
	}
	if fk.navigate == nil || e.mode != ObjectBacked || e.manager == nil {
		return nil
	}
	obj := fk.navigate(e.object)
	if obj == nil {
		return nil
	}
	pe, ok := e.manager.Entry(obj)
	if !ok || pe.typ != fk.principal {
		return nil
	}
	return pe
}

func (e *Entry) unlink(fk *ForeignKey) {
	if e.principals == nil {
		e.principals = map[*ForeignKey]*Entry{}
	}
	e.principals[fk] = nil
}

// SetState moves the entry through its lifecycle. Added runs value
// generation, Modified flags every non-key property, Unchanged clears the
// flags and Detached stops tracking for good. Unchanged and Modified mark
// the entry as existing in the store.
func (e *Entry) SetState(s EntityState) error {
	if e.state == Detached && s != Detached {
		return fmt.Errorf("gotrack: %s entry cannot become %s: %w", e.typ.name, s, ErrDetached)
	}
	if s == e.state {
		return nil
	}
	switch s {
	case Added:
		e.modified.reset()
		e.transition(Added)
		e.manager.generation.Generate(e)
	case Unchanged:
		e.modified.reset()
		e.persisted = true
		e.transition(Unchanged)
	case Modified:
		originals := e.OriginalValues()
		for _, p := range e.typ.properties {
			if !p.isKey {
				originals.Capture(p)
				e.modified.set(p.index, true)
			}
		}
		e.persisted = true
		e.transition(Modified)
	case Deleted:
		e.transition(Deleted)
	case Detached:
		e.transition(Detached)
		e.manager.stopTracking(e)
	default:
		return fmt.Errorf("gotrack: unknown entity state %v: %w", s, ErrInvalidArgument)
	}
	return nil
}

// AcceptChanges is applied once a save succeeded: store-reported values
// become current, principal keys are propagated again, flags are cleared
// and the original values are re-baselined. Deleted entries detach.
func (e *Entry) AcceptChanges() {
	if e.state == Detached {
		return
	}
	if e.state == Deleted {
		e.discardStoreValues()
		e.temporary.reset()
		e.modified.reset()
		_ = e.SetState(Detached)
		return
	}
	e.commitStoreValues()
	for _, fk := range e.typ.foreignKeys {
		if pe := e.Principal(fk); pe != nil {
			e.manager.propagator.propagate(e, fk, pe, false)
		}
	}
	e.temporary.reset()
	e.modified.reset()
	e.OriginalValues().AcceptChanges()
	e.persisted = true
	if e.state != Unchanged {
		e.transition(Unchanged)
	}
}

func (e *Entry) commitStoreValues() {
	if e.storeValues == nil {
		return
	}
	for _, p := range e.typ.properties {
		if v, ok := e.storeValues.Get(p); ok {
			e.WriteProperty(p, v)
			e.temporary.set(p.index, false)
		}
	}
	e.storeValues.Reset()
}

func (e *Entry) discardStoreValues() {
	if e.storeValues != nil {
		e.storeValues.Reset()
	}
}

func (e *Entry) transition(to EntityState) {
	from := e.state
	e.state = to
	if e.manager != nil {
		e.manager.logger.Debug("entry state changed",
			zap.String("entity", e.typ.name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
}

func (e *Entry) checkProperty(op string, p *Property) {
	if p == nil {
		fault(ArgumentFault, op, "nil property")
	}
	if p.declaring != e.typ {
		fault(MetadataFault, op, "property %s does not belong to %s", p, e.typ.name)
	}
}

func (e *Entry) shadowSlot(op string, p *Property) int {
	if !p.IsShadowProperty() {
		fault(DomainFault, op, "%s is not a shadow property", p)
	}
	if p.shadowIndex >= len(e.slots) {
		fault(MetadataFault, op, "shadow index %d of %s is out of range for %d slots", p.shadowIndex, p, len(e.slots))
	}
	return p.shadowIndex
}

func (e *Entry) String() string {
	if k, ok := e.Key(); ok {
		return fmt.Sprintf("%s%s [%s]", e.typ.name, k, e.state)
	}
	return fmt.Sprintf("%s [%s]", e.typ.name, e.state)
}
