package mada

import (
	"fmt"

	"github.com/pkg/errors"
)

// BackingStoreKind identifies which part of the MappedArray I/O path failed.
type BackingStoreKind int

const (
	OpenFailed BackingStoreKind = iota
	ExtendFailed
	MapFailed
	WriteFailed
	SyncFailed
	CloseFailed
	TruncateFailed
)

func (k BackingStoreKind) String() string {
	switch k {
	case OpenFailed:
		return "open"
	case ExtendFailed:
		return "extend"
	case MapFailed:
		return "map"
	case WriteFailed:
		return "write"
	case SyncFailed:
		return "sync"
	case CloseFailed:
		return "close"
	case TruncateFailed:
		return "truncate"
	default:
		return "unknown"
	}
}

// BackingStoreError wraps a failure from the memory-mapped backing store.
// The cause is preserved and reachable via errors.Unwrap/errors.As.
type BackingStoreError struct {
	Kind BackingStoreKind
	Path string
	err  error
}

func wrapStoreErr(kind BackingStoreKind, path string, cause error) *BackingStoreError {
	return &BackingStoreError{
		Kind: kind,
		Path: path,
		err:  errors.Wrapf(cause, "%s %s", kind, path),
	}
}

func (e *BackingStoreError) Error() string {
	return e.err.Error()
}

func (e *BackingStoreError) Unwrap() error {
	return e.err
}

// InvalidConfigError reports a constructor-time configuration violation.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid double-array config: %s", e.Reason)
}
