package gotrack

import (
	"go.uber.org/zap"
)

// ForeignKeyValuePropagator copies principal key values into dependent
// foreign key properties.
type ForeignKeyValuePropagator struct {
	logger *zap.Logger
}

func NewForeignKeyValuePropagator(logger *zap.Logger) *ForeignKeyValuePropagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForeignKeyValuePropagator{logger: logger}
}

// PropagateValue sets p from the first resolvable principal of the foreign
// keys containing it. A temporary principal key makes p temporary too.
// Nothing is written when no principal is known or its key is unset.
func (fp *ForeignKeyValuePropagator) PropagateValue(entry *Entry, p *Property) {
	if entry == nil {
		fault(ArgumentFault, "PropagateValue", "nil entry")
	}
	entry.checkProperty("PropagateValue", p)
	for _, fk := range p.foreignKeys {
		principal := entry.Principal(fk)
		if principal == nil {
			continue
		}
		pp := fk.principalProperty(p)
		v := principal.ReadProperty(pp)
		if pp.IsSentinelValue(v) {
			continue
		}
		entry.WriteProperty(p, coerce("PropagateValue", p, v))
		entry.temporary.set(p.index, principal.IsTemporary(pp))
		fp.logger.Debug("foreign key propagated",
			zap.String("entity", entry.typ.name),
			zap.String("property", p.name),
			zap.String("principal", principal.typ.name),
		)
		return
	}
}

// propagate copies every principal key value of fk into entry. With
// tracked set the writes go through the tracked path.
func (fp *ForeignKeyValuePropagator) propagate(entry *Entry, fk *ForeignKey, principal *Entry, tracked bool) {
	for i, p := range fk.properties {
		pp := fk.principalKey[i]
		v := principal.ReadProperty(pp)
		if pp.IsSentinelValue(v) {
			continue
		}
		v = coerce("propagate", p, v)
		switch {
		case tracked:
			entry.setValue(p, v, true)
		case !valuesEqual(entry.ReadProperty(p), v):
			entry.WriteProperty(p, v)
		}
		entry.temporary.set(p.index, principal.IsTemporary(pp))
	}
}

func coerce(op string, p *Property, v any) any {
	if p.assignable(v) {
		return v
	}
	cv, err := p.ConvertValue(v)
	if err != nil {
		fault(MetadataFault, op, "%v", err)
	}
	return cv
}
