// pkg/crdterr/crdterr.go
//
// Package crdterr defines the typed error kinds raised while decoding
// or applying changes (spec §7). It plays the role the teacher's
// pkg/pager/corruption.go CorruptionError played for page corruption:
// a single concrete error type carrying a machine-checkable kind,
// wrapped through errors.Is/errors.As instead of compared by string.
package crdterr

import (
	"errors"
	"fmt"
)

// Kind discriminates the category of a document/change error.
type Kind uint8

const (
	MalformedData Kind = iota
	UnknownActor
	MismatchedRef
	ReferenceNotFound
	DanglingPred
	DuplicateOpId
	SeqGap
	SeqReuse
	AlreadyApplied
	UnknownHash
)

func (k Kind) String() string {
	switch k {
	case MalformedData:
		return "malformed data"
	case UnknownActor:
		return "unknown actor"
	case MismatchedRef:
		return "mismatched reference"
	case ReferenceNotFound:
		return "reference not found"
	case DanglingPred:
		return "dangling pred"
	case DuplicateOpId:
		return "duplicate op id"
	case SeqGap:
		return "sequence gap"
	case SeqReuse:
		return "sequence reuse"
	case AlreadyApplied:
		return "already applied"
	case UnknownHash:
		return "unknown hash"
	default:
		return fmt.Sprintf("crdterr.Kind(%d)", uint8(k))
	}
}

// Error is the single concrete error type returned across the
// decode/apply surface. Callers distinguish kinds with errors.Is
// against the package's sentinel Is... helpers, or by inspecting Kind
// directly after an errors.As.
type Error struct {
	Kind    Kind
	Detail  string
	Wrapped error
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Wrapped: err}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is an *Error of the same Kind, so callers
// can write errors.Is(err, crdterr.New(crdterr.SeqGap, "")) or use the
// Is* helpers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func kindSentinel(k Kind) *Error { return &Error{Kind: k} }

var (
	sentinelMalformedData     = kindSentinel(MalformedData)
	sentinelUnknownActor      = kindSentinel(UnknownActor)
	sentinelMismatchedRef     = kindSentinel(MismatchedRef)
	sentinelReferenceNotFound = kindSentinel(ReferenceNotFound)
	sentinelDanglingPred      = kindSentinel(DanglingPred)
	sentinelDuplicateOpId     = kindSentinel(DuplicateOpId)
	sentinelSeqGap            = kindSentinel(SeqGap)
	sentinelSeqReuse          = kindSentinel(SeqReuse)
	sentinelAlreadyApplied    = kindSentinel(AlreadyApplied)
	sentinelUnknownHash       = kindSentinel(UnknownHash)
)

// IsMalformedData reports whether err is (or wraps) a MalformedData error.
func IsMalformedData(err error) bool { return errors.Is(err, sentinelMalformedData) }

// IsUnknownActor reports whether err is (or wraps) an UnknownActor error.
func IsUnknownActor(err error) bool { return errors.Is(err, sentinelUnknownActor) }

// IsMismatchedRef reports whether err is (or wraps) a MismatchedRef error.
func IsMismatchedRef(err error) bool { return errors.Is(err, sentinelMismatchedRef) }

// IsReferenceNotFound reports whether err is (or wraps) a ReferenceNotFound error.
func IsReferenceNotFound(err error) bool { return errors.Is(err, sentinelReferenceNotFound) }

// IsDanglingPred reports whether err is (or wraps) a DanglingPred error.
func IsDanglingPred(err error) bool { return errors.Is(err, sentinelDanglingPred) }

// IsDuplicateOpId reports whether err is (or wraps) a DuplicateOpId error.
func IsDuplicateOpId(err error) bool { return errors.Is(err, sentinelDuplicateOpId) }

// IsSeqGap reports whether err is (or wraps) a SeqGap error.
func IsSeqGap(err error) bool { return errors.Is(err, sentinelSeqGap) }

// IsSeqReuse reports whether err is (or wraps) a SeqReuse error.
func IsSeqReuse(err error) bool { return errors.Is(err, sentinelSeqReuse) }

// IsAlreadyApplied reports whether err is (or wraps) an AlreadyApplied error.
func IsAlreadyApplied(err error) bool { return errors.Is(err, sentinelAlreadyApplied) }

// IsUnknownHash reports whether err is (or wraps) an UnknownHash error.
func IsUnknownHash(err error) bool { return errors.Is(err, sentinelUnknownHash) }
