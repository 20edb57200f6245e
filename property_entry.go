package gotrack

// PropertyEntry is a view over one property of an entry.
type PropertyEntry struct {
	entry    *Entry
	property *Property
}

func (pe *PropertyEntry) Name() string { return pe.property.name }

func (pe *PropertyEntry) Metadata() *Property { return pe.property }

func (pe *PropertyEntry) CurrentValue() any { return pe.entry.ReadProperty(pe.property) }

// SetCurrentValue writes through the tracked path.
func (pe *PropertyEntry) SetCurrentValue(v any) { pe.entry.SetValue(pe.property, v) }

func (pe *PropertyEntry) OriginalValue() any { return pe.entry.OriginalValues().Get(pe.property) }

func (pe *PropertyEntry) SetOriginalValue(v any) { pe.entry.OriginalValues().Set(pe.property, v) }

func (pe *PropertyEntry) IsModified() bool { return pe.entry.IsPropertyModified(pe.property) }

func (pe *PropertyEntry) SetModified(modified bool) {
	pe.entry.SetPropertyModified(pe.property, modified)
}

func (pe *PropertyEntry) IsTemporary() bool { return pe.entry.IsTemporary(pe.property) }
