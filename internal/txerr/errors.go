// Package txerr implements the transfer error taxonomy as a set of
// tagged kinds plus github.com/pkg/errors wrapping for errors crossing
// package boundaries.
package txerr

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Kind is one entry in the taxonomy. Policy for each kind lives in
// the manager (internal/blobmgr), not here — this package only
// classifies.
type Kind int

const (
	Unknown Kind = iota
	NetworkUnreachable
	TransportFailure
	AuthenticationFailure
	ClientRestorationFailure
	DecompositionFailure
	PersistenceFailure
	Canceled
	InvalidState
)

func (k Kind) String() string {
	switch k {
	case NetworkUnreachable:
		return "NetworkUnreachable"
	case TransportFailure:
		return "TransportFailure"
	case AuthenticationFailure:
		return "AuthenticationFailure"
	case ClientRestorationFailure:
		return "ClientRestorationFailure"
	case DecompositionFailure:
		return "DecompositionFailure"
	case PersistenceFailure:
		return "PersistenceFailure"
	case Canceled:
		return "Canceled"
	case InvalidState:
		return "InvalidState"
	default:
		return "Unknown"
	}
}

// taggedError pairs a Kind with the wrapped cause so errors.Cause
// keeps working for callers that only care about the underlying
// error, while Classify recovers the Kind. status carries the HTTP
// status code for a TransportFailure built by NewTransportStatus, or
// 0 when the failure didn't originate from a status code.
type taggedError struct {
	kind   Kind
	status int
	cause  error
}

func (e *taggedError) Error() string { return e.kind.String() + ": " + e.cause.Error() }
func (e *taggedError) Cause() error  { return e.cause }
func (e *taggedError) Unwrap() error { return e.cause }

// New wraps err with kind and a message, analogous to errors.Wrap.
func New(kind Kind, err error, message string) error {
	return &taggedError{kind: kind, cause: errors.Wrap(err, message)}
}

// NewTransportStatus tags err as a TransportFailure carrying the HTTP
// status code that produced it, so IsRetryable can classify it
// without parsing the error text. The resty transport calls this
// instead of New at the point the status code is still in hand; the
// s3 transport does not tag statuses.
func NewTransportStatus(status int, err error) error {
	return &taggedError{kind: TransportFailure, status: status, cause: err}
}

// findTagged walks err's Unwrap chain one level at a time looking for
// a *taggedError, stopping at the first one found so a taggedError
// nested inside another (transport layer tags a status, then an
// operation wraps it again for context) isn't skipped over by a
// single full errors.Cause unwind.
func findTagged(err error) *taggedError {
	for err != nil {
		if t, ok := err.(*taggedError); ok {
			return t
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// Classify recovers the Kind tagged onto err by New or
// NewTransportStatus. Untagged errors classify as Unknown, which the
// manager treats as a non-retryable failure.
func Classify(err error) Kind {
	t := findTagged(err)
	if t == nil {
		return Unknown
	}
	return t.kind
}

// StatusOf recovers the HTTP status code tagged onto err by
// NewTransportStatus, or 0 if err carries none.
func StatusOf(err error) int {
	t := findTagged(err)
	if t == nil {
		return 0
	}
	return t.status
}

// Sentinel markers for cancellation and for a command that has no
// effect. Nothing in this module returns or checks them; the manager
// classifies failures with Classify.
var (
	ErrCanceled     = stderrors.New("txerr: operation canceled")
	ErrInvalidState = stderrors.New("txerr: command has no effect in current state")
)

// RetryableStatus is the set of HTTP status codes treated as
// retryable transport failures.
var RetryableStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryable reports whether a TransportFailure carrying the given
// HTTP status should be retried.
func IsRetryable(status int) bool {
	return RetryableStatus[status]
}
