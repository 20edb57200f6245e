package gotrack

import "fmt"

// EntityState is the lifecycle state of an entry.
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s EntityState) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return fmt.Sprintf("EntityState(%d)", int(s))
	}
}

// StorageMode selects where an entry keeps its property values.
type StorageMode int

const (
	// ObjectBacked entries read and write a struct through compiled
	// accessors; shadow properties of the type live in the entry's slots.
	ObjectBacked StorageMode = iota + 1
	// ShadowBacked entries have no struct; every value lives in the slots.
	ShadowBacked
)

func (m StorageMode) String() string {
	switch m {
	case ObjectBacked:
		return "object"
	case ShadowBacked:
		return "shadow"
	default:
		return fmt.Sprintf("StorageMode(%d)", int(m))
	}
}
