package gotrack

import "fmt"

// ValueReader is a sequential, ordinal-addressed view over one raw row.
// Ordinals follow the property order of the entity type being hydrated:
// shadow index order for shadow types, property index order otherwise.
type ValueReader interface {
	Count() int
	IsNull(ordinal int) bool
	ReadValue(ordinal int) any
}

// ReadValue reads ordinal from r as a T.
func ReadValue[T any](r ValueReader, ordinal int) (T, error) {
	var zero T
	if r.IsNull(ordinal) {
		return zero, nil
	}
	v, ok := r.ReadValue(ordinal).(T)
	if !ok {
		return zero, fmt.Errorf("gotrack: value at ordinal %d is not a %T", ordinal, zero)
	}
	return v, nil
}

// SliceReader adapts a scanned row to ValueReader.
type SliceReader []any

func (r SliceReader) Count() int { return len(r) }

func (r SliceReader) IsNull(ordinal int) bool { return isNil(r[ordinal]) }

func (r SliceReader) ReadValue(ordinal int) any { return r[ordinal] }
