package gotrack

// StoreGeneratedValues holds values the store assigned during a save that
// has not been accepted yet. They become current values on accept and are
// dropped if the save fails.
type StoreGeneratedValues struct {
	entry  *Entry
	values []any
	has    flags
}

func newStoreGeneratedValues(e *Entry) *StoreGeneratedValues {
	n := len(e.typ.properties)
	return &StoreGeneratedValues{entry: e, values: make([]any, n), has: newFlags(n)}
}

func (s *StoreGeneratedValues) Get(p *Property) (any, bool) {
	s.entry.checkProperty("StoreGeneratedValues.Get", p)
	if !s.has.get(p.index) {
		return nil, false
	}
	return s.values[p.index], true
}

func (s *StoreGeneratedValues) Set(p *Property, v any) {
	s.entry.checkProperty("StoreGeneratedValues.Set", p)
	if !p.assignable(v) {
		fault(ArgumentFault, "StoreGeneratedValues.Set", "%T is not assignable to %s of type %v", v, p, p.typ)
	}
	s.values[p.index] = v
	s.has.set(p.index, true)
}

func (s *StoreGeneratedValues) Len() int {
	n := 0
	for i := range s.values {
		if s.has.get(i) {
			n++
		}
	}
	return n
}

func (s *StoreGeneratedValues) Reset() {
	for i := range s.values {
		s.values[i] = nil
	}
	s.has.reset()
}
