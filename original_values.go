package gotrack

// OriginalValuesFactory creates original-value sidecars.
type OriginalValuesFactory struct{}

// Create binds an empty sidecar to entry's property metadata. It does
// not touch the entry; values are captured on first use.
func (OriginalValuesFactory) Create(entry *Entry) *OriginalValues {
	if entry == nil {
		fault(ArgumentFault, "OriginalValuesFactory.Create", "nil entry")
	}
	n := len(entry.typ.properties)
	return &OriginalValues{
		entry:    entry,
		values:   make([]any, n),
		captured: newFlags(n),
	}
}

// OriginalValues is the baseline of an entry: the value of each property
// as of its first capture. A captured baseline changes only through Set
// or AcceptChanges.
type OriginalValues struct {
	entry    *Entry
	values   []any
	captured flags
}

func (o *OriginalValues) Entry() *Entry { return o.entry }

// Capture records the entry's current value of p as its baseline unless
// one is already held. It reports whether this call captured.
func (o *OriginalValues) Capture(p *Property) bool {
	o.entry.checkProperty("OriginalValues.Capture", p)
	if o.captured.get(p.index) {
		return false
	}
	o.values[p.index] = o.entry.ReadProperty(p)
	o.captured.set(p.index, true)
	return true
}

// CaptureAll captures every property not captured yet.
func (o *OriginalValues) CaptureAll() {
	for _, p := range o.entry.typ.properties {
		o.Capture(p)
	}
}

func (o *OriginalValues) IsCaptured(p *Property) bool {
	o.entry.checkProperty("OriginalValues.IsCaptured", p)
	return o.captured.get(p.index)
}

// Get returns the baseline of p, capturing the current value on first access.
func (o *OriginalValues) Get(p *Property) any {
	o.Capture(p)
	return o.values[p.index]
}

// Set overrides the baseline of p.
func (o *OriginalValues) Set(p *Property, v any) {
	o.entry.checkProperty("OriginalValues.Set", p)
	if !p.assignable(v) {
		fault(ArgumentFault, "OriginalValues.Set", "%T is not assignable to %s of type %v", v, p, p.typ)
	}
	o.values[p.index] = v
	o.captured.set(p.index, true)
}

// AcceptChanges re-baselines every property to the entry's current value.
func (o *OriginalValues) AcceptChanges() {
	for _, p := range o.entry.typ.properties {
		o.Set(p, o.entry.ReadProperty(p))
	}
}
