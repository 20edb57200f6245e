package gotrack

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Executor writes a batch of changes to the backing store. Executors may
// report store-assigned values through Change.SetStoreValue; they become
// current only once the whole batch is accepted.
type Executor interface {
	Execute(ctx context.Context, changes []*Change) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, changes []*Change) error

func (f ExecutorFunc) Execute(ctx context.Context, changes []*Change) error { return f(ctx, changes) }

// Operation is the statement kind a change maps to.
type Operation int

const (
	OpInsert Operation = iota + 1
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// Change is one pending write handed to an Executor.
type Change struct {
	entry *Entry
	op    Operation
}

func (c *Change) Entry() *Entry { return c.entry }

func (c *Change) Operation() Operation { return c.op }

func (c *Change) EntityType() *EntityType { return c.entry.typ }

// InsertProperties lists the properties an INSERT supplies: everything
// except store-generated properties still holding a placeholder or sentinel.
func (c *Change) InsertProperties() []*Property {
	var out []*Property
	for _, p := range c.entry.typ.properties {
		if !c.storeAssigned(p) {
			out = append(out, p)
		}
	}
	return out
}

// StoreGeneratedProperties lists the properties the store is expected to
// report back after an INSERT.
func (c *Change) StoreGeneratedProperties() []*Property {
	if c.op != OpInsert {
		return nil
	}
	var out []*Property
	for _, p := range c.entry.typ.properties {
		if c.storeAssigned(p) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Change) storeAssigned(p *Property) bool {
	if !p.storeGenerated {
		return false
	}
	return c.entry.IsTemporary(p) || p.IsSentinelValue(c.entry.ReadProperty(p))
}

// unresolvedTemporary returns the first temporary property the save would
// write as a final value: one the store does not assign and no principal
// inserted alongside will replace.
func (c *Change) unresolvedTemporary() *Property {
	if c.op == OpDelete {
		return nil
	}
	for _, p := range c.entry.typ.properties {
		if !c.entry.IsTemporary(p) || c.storeAssigned(p) || c.principalAssigns(p) {
			continue
		}
		return p
	}
	return nil
}

func (c *Change) principalAssigns(p *Property) bool {
	for _, fk := range p.foreignKeys {
		pe := c.entry.Principal(fk)
		if pe == nil || pe.state != Added {
			continue
		}
		if pp := fk.principalProperty(p); pp != nil && pp.storeGenerated {
			return true
		}
	}
	return false
}

// UpdateProperties lists the modified properties of an UPDATE.
func (c *Change) UpdateProperties() []*Property {
	if c.op != OpUpdate {
		return nil
	}
	return c.entry.ModifiedProperties()
}

func (c *Change) KeyProperties() []*Property { return c.entry.typ.key }

func (c *Change) ConcurrencyTokens() []*Property {
	var out []*Property
	for _, p := range c.entry.typ.properties {
		if p.concurrencyToken {
			out = append(out, p)
		}
	}
	return out
}

// Value returns the value to write for p. Values already reported by the
// store for this entry, or for the principal key a foreign key points at,
// take precedence over current values.
func (c *Change) Value(p *Property) any {
	c.entry.checkProperty("Change.Value", p)
	if sv := c.entry.storeValues; sv != nil {
		if v, ok := sv.Get(p); ok {
			return v
		}
	}
	for _, fk := range p.foreignKeys {
		pe := c.entry.Principal(fk)
		if pe == nil || pe.storeValues == nil {
			continue
		}
		if v, ok := pe.storeValues.Get(fk.principalProperty(p)); ok {
			return coerce("Change.Value", p, v)
		}
	}
	return c.entry.ReadProperty(p)
}

// OriginalValue returns the baseline of p, used in predicates.
func (c *Change) OriginalValue(p *Property) any {
	return c.entry.OriginalValues().Get(p)
}

// SetStoreValue records a value the store assigned to p.
func (c *Change) SetStoreValue(p *Property, v any) error {
	c.entry.checkProperty("Change.SetStoreValue", p)
	cv, err := p.ConvertValue(v)
	if err != nil {
		return err
	}
	c.entry.StoreGeneratedValues().Set(p, cv)
	return nil
}

// Before returns column to original value for updates and deletes.
func (c *Change) Before() map[string]any {
	if c.op == OpInsert {
		return nil
	}
	m := make(map[string]any, len(c.entry.typ.properties))
	for _, p := range c.entry.typ.properties {
		m[p.column] = c.OriginalValue(p)
	}
	return m
}

// After returns column to written value for inserts and updates.
func (c *Change) After() map[string]any {
	if c.op == OpDelete {
		return nil
	}
	m := make(map[string]any, len(c.entry.typ.properties))
	for _, p := range c.entry.typ.properties {
		m[p.column] = c.Value(p)
	}
	return m
}

func (c *Change) String() string {
	return fmt.Sprintf("%s %s", c.op, c.entry)
}

// SaveChanges sends every pending entry to exec and accepts the changes
// once exec succeeded. It returns the number of changes written. On
// failure every entry keeps its state and values.
func (sm *StateManager) SaveChanges(ctx context.Context, exec Executor) (int, error) {
	if exec == nil {
		return 0, fmt.Errorf("gotrack: save changes: nil executor: %w", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("gotrack: save changes: %w", err)
	}
	if !sm.cfg.ManualDetectChanges {
		sm.DetectChanges()
	}

	changes, transient := sm.pendingChanges()
	for _, c := range changes {
		if p := c.unresolvedTemporary(); p != nil {
			return 0, fmt.Errorf("gotrack: save changes: %s of %s: %w", p, c.entry, ErrTemporaryValue)
		}
	}
	if len(changes) > 0 {
		if err := exec.Execute(ctx, changes); err != nil {
			for _, c := range changes {
				c.entry.discardStoreValues()
			}
			sm.logger.Warn("save failed", zap.Int("changes", len(changes)), zap.Error(err))
			return 0, fmt.Errorf("gotrack: save changes: %w", err)
		}
	}

	sm.AcceptAllChanges(changes)
	for _, e := range transient {
		e.AcceptChanges()
	}
	if len(changes) > 0 {
		sm.logger.Debug("changes saved", zap.Int("changes", len(changes)))
	}
	return len(changes), nil
}

// AcceptAllChanges is the post-save notification: store-reported values
// of every change are committed first, so dependents see final principal
// keys, then each entry accepts its changes.
func (sm *StateManager) AcceptAllChanges(changes []*Change) {
	for _, c := range changes {
		c.entry.commitStoreValues()
	}
	for _, c := range changes {
		c.entry.AcceptChanges()
	}
}

// pendingChanges orders inserts and updates principal first and deletes
// dependent first. Deleted entries never persisted are returned apart.
func (sm *StateManager) pendingChanges() (changes []*Change, transient []*Entry) {
	var order []*Entry
	visited := map[*Entry]bool{}
	var visit func(e *Entry)
	visit = func(e *Entry) {
		if visited[e] {
			return
		}
		visited[e] = true
		for _, fk := range e.typ.foreignKeys {
			if pe := e.Principal(fk); pe != nil && pe != e {
				visit(pe)
			}
		}
		order = append(order, e)
	}
	for _, e := range sm.entries {
		visit(e)
	}

	for _, e := range order {
		switch e.state {
		case Added:
			changes = append(changes, &Change{entry: e, op: OpInsert})
		case Modified:
			if e.modified.any() {
				changes = append(changes, &Change{entry: e, op: OpUpdate})
			}
		}
	}
	for _, e := range slices.Backward(order) {
		if e.state != Deleted {
			continue
		}
		if !e.persisted {
			transient = append(transient, e)
			continue
		}
		changes = append(changes, &Change{entry: e, op: OpDelete})
	}
	return changes, transient
}
