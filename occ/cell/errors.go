package cell

import (
	"fmt"

	"github.com/pingcap/errors"
)

// Op names a cell operation in usage faults.
type Op int

const (
	OpPeek Op = iota
	OpOpenRead
	OpOpenWrite
	OpVerify
	OpUpdate
	OpClose
)

func (op Op) String() string {
	switch op {
	case OpPeek:
		return "peek"
	case OpOpenRead:
		return "open-read"
	case OpOpenWrite:
		return "open-write"
	case OpVerify:
		return "verify"
	case OpUpdate:
		return "update"
	case OpClose:
		return "close"
	}
	return "unknown"
}

// UsageError reports a violation of the cell locking discipline, such as opening a cell twice or updating without
// write access. It is a bug in the caller, so cells panic with it instead of returning it.
type UsageError struct {
	Cell  int
	Owner Owner
	Op    Op
	Msg   string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("cell %s: illegal %s by owner %d: %s", Name(e.Cell), e.Op, e.Owner, e.Msg)
}

func usageFault(id int, owner Owner, op Op, msg string) {
	panic(&UsageError{Cell: id, Owner: owner, Op: op, Msg: msg})
}

// ConflictReason describes why an open or verify could not proceed.
type ConflictReason int

const (
	// WriterHeld means another owner holds the cell exclusively.
	WriterHeld ConflictReason = iota + 1
	// ReadersHeld means other owners are reading the cell, so it cannot be written.
	ReadersHeld
	// StaleRead means the value changed after it was peeked.
	StaleRead
)

func (r ConflictReason) String() string {
	switch r {
	case WriterHeld:
		return "writer-held"
	case ReadersHeld:
		return "readers-held"
	case StaleRead:
		return "stale-read"
	}
	return "unknown"
}

// ConflictError is returned by Open and Verify when a concurrent transaction got in the way. The attempt that sees
// it must release everything it holds and start over.
type ConflictError struct {
	Cell   int
	Owner  Owner
	Reason ConflictReason
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cell %s: conflict for owner %d: %s", Name(e.Cell), e.Owner, e.Reason)
}

// IsConflict reports whether err, or the error it wraps, is a *ConflictError.
func IsConflict(err error) bool {
	_, ok := AsConflict(err)
	return ok
}

// AsConflict unwraps err to a *ConflictError.
func AsConflict(err error) (*ConflictError, bool) {
	if err == nil {
		return nil, false
	}
	c, ok := errors.Cause(err).(*ConflictError)
	return c, ok
}
