package pherr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind discriminates the failure modes the engine can raise. See spec §7.
type Kind int

const (
	// InvalidFile marks a bad magic, version, or size class on open.
	InvalidFile Kind = iota
	// InvalidOffset marks an offset that is not class-aligned / page-aligned.
	InvalidOffset
	// InvalidPath marks an empty path, or an empty key component.
	InvalidPath
	// KindMismatch marks an attempt to overwrite a dir with a key or vice versa.
	KindMismatch
	// SizeTooBig marks an SMFS payload over 256 bytes.
	SizeTooBig
	// OutOfRange marks a codec buffer over/under-run. Internal; should never
	// surface to a caller of lib/store.
	OutOfRange
	// NoVolumeMounted marks a mutating operation whose path is not covered
	// by any mount.
	NoVolumeMounted
	// IoError wraps a failure from the underlying file adapter.
	IoError
	// CorruptData marks an invariant violation discovered while decoding
	// on-disk bytes.
	CorruptData
)

func (k Kind) String() string {
	switch k {
	case InvalidFile:
		return "InvalidFile"
	case InvalidOffset:
		return "InvalidOffset"
	case InvalidPath:
		return "InvalidPath"
	case KindMismatch:
		return "KindMismatch"
	case SizeTooBig:
		return "SizeTooBig"
	case OutOfRange:
		return "OutOfRange"
	case NoVolumeMounted:
		return "NoVolumeMounted"
	case IoError:
		return "IoError"
	case CorruptData:
		return "CorruptData"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every lib/ package in this module.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("phkv(%s): %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("phkv(%s): %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with no wrapped cause, formatting msg like fmt.Sprintf.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error carrying cause, retaining a stack trace for it via
// cockroachdb/errors. Used for the two kinds that originate outside this
// module's own invariants: IoError (the file adapter failed) and CorruptData
// (bytes on disk didn't decode).
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: errors.Wrapf(cause, "%s", msg)}
}

// Is reports whether err is a *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
