package gotrack

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is matched by faults raised for nil or invalid required inputs.
	ErrInvalidArgument = errors.New("gotrack: invalid argument")
	// ErrMetadataIntegrity is matched by faults raised for inconsistent model metadata.
	ErrMetadataIntegrity = errors.New("gotrack: metadata integrity violation")
	// ErrDomain is matched by faults raised when a caller breaks an entry contract.
	ErrDomain = errors.New("gotrack: domain violation")

	ErrDetached          = errors.New("gotrack: entry is detached")
	ErrModelFrozen       = errors.New("gotrack: model is frozen")
	ErrUnknownEntityType = errors.New("gotrack: unknown entity type")
	ErrIdentityConflict  = errors.New("gotrack: another entry with the same key is already tracked")
	ErrConcurrency       = errors.New("gotrack: concurrency conflict")
	ErrTemporaryValue    = errors.New("gotrack: temporary value would be saved")
)

// FaultKind classifies programming errors detected by the tracking core.
type FaultKind int

const (
	ArgumentFault FaultKind = iota + 1
	MetadataFault
	DomainFault
)

func (k FaultKind) String() string {
	switch k {
	case ArgumentFault:
		return "argument"
	case MetadataFault:
		return "metadata"
	case DomainFault:
		return "domain"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// Fault is the panic value used for defects in the calling layer.
// Property access never returns errors; it panics with a *Fault, the same
// way reflect panics on misuse. Faults are never retried.
type Fault struct {
	Kind    FaultKind
	Op      string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("gotrack: %s: %s fault: %s", f.Op, f.Kind, f.Message)
}

// Is reports whether target is the sentinel error for the fault's kind.
func (f *Fault) Is(target error) bool {
	switch f.Kind {
	case ArgumentFault:
		return target == ErrInvalidArgument
	case MetadataFault:
		return target == ErrMetadataIntegrity
	case DomainFault:
		return target == ErrDomain
	}
	return false
}

func fault(kind FaultKind, op, format string, args ...any) {
	panic(&Fault{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)})
}

// ConcurrencyError reports entries whose store row no longer matched the
// key and concurrency tokens the save was based on.
type ConcurrencyError struct {
	Entries []*Entry
}

// NewConcurrencyError is used by executors when an update or delete affected no rows.
func NewConcurrencyError(entries ...*Entry) *ConcurrencyError {
	return &ConcurrencyError{Entries: entries}
}

func (e *ConcurrencyError) Error() string {
	if len(e.Entries) == 1 {
		en := e.Entries[0]
		if k, ok := en.Key(); ok {
			return fmt.Sprintf("gotrack: concurrency conflict on %s%s", en.EntityType().Name(), k)
		}
		return fmt.Sprintf("gotrack: concurrency conflict on %s", en.EntityType().Name())
	}
	return fmt.Sprintf("gotrack: concurrency conflict on %d entries", len(e.Entries))
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}
