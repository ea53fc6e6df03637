// Package roomerr defines the error taxonomy shared by every component of
// the room engine (spec §7). Errors are grouped by Kind so callers can
// branch with errors.Is/errors.As without depending on a specific component's
// error type.
package roomerr

import (
	"fmt"

	"maunium.net/go/mautrix/id"
)

// Kind groups errors into the broad buckets used for logging and for
// deciding whether a failure is retryable.
type Kind int

const (
	KindNotFound Kind = iota
	KindProtocol
	KindAuth
	KindTransport
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the common shape for every taxonomy error. Reason is a short,
// stable machine-readable tag (e.g. "invalid_signature") matching the names
// used in spec §7; it is what tests and callers should match on.
type Error struct {
	Kind   Kind
	Reason string
	EventID id.EventID
	// Detail carries human-readable context; it is not part of the
	// matchable identity of the error.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason
	if e.EventID != "" {
		msg = fmt.Sprintf("%s(%s)", msg, e.EventID)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind+Reason so errors.Is(err, roomerr.NotInvited) works
// without caring about EventID/Detail/Err.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind && e.Reason == other.Reason
}

func newErr(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func (e *Error) withEvent(eventID id.EventID) *Error {
	clone := *e
	clone.EventID = eventID
	return &clone
}

func (e *Error) withErr(err error) *Error {
	clone := *e
	clone.Err = err
	return &clone
}

func (e *Error) withDetail(format string, args ...any) *Error {
	clone := *e
	clone.Detail = fmt.Sprintf(format, args...)
	return &clone
}

// Sentinel reasons, per spec §7.
var (
	RoomNotFound  = newErr(KindNotFound, "room_not_found")
	EventNotFound = newErr(KindNotFound, "event_not_found")

	InvalidSignature      = newErr(KindProtocol, "invalid_signature")
	MismatchedContentHash = newErr(KindProtocol, "mismatched_content_hash")
	MismatchedRoomID      = newErr(KindProtocol, "mismatched_room_id")
	MissedStateKey        = newErr(KindProtocol, "missed_state_key")
	MissedStateMap        = newErr(KindProtocol, "missed_state_map")
	MissedPrevEvent       = newErr(KindProtocol, "missed_prev_event")
	UnknownEvent          = newErr(KindProtocol, "unknown_event")
	LoopInAuthChain       = newErr(KindProtocol, "loop_in_auth_chain")

	EventAuthError      = newErr(KindAuth, "event_auth_error")
	NotInvited          = newErr(KindAuth, "not_invited")
	IncompatibleVersion = newErr(KindAuth, "incompatible_version")
	NotAllowed          = newErr(KindAuth, "not_allowed")
)

// WithEventID attaches an event id to a sentinel, producing a new error
// value that still satisfies errors.Is against the sentinel.
func WithEventID(sentinel *Error, eventID id.EventID) error { return sentinel.withEvent(eventID) }

// WithDetail attaches a human-readable detail string.
func WithDetail(sentinel *Error, format string, args ...any) error {
	return sentinel.withDetail(format, args...)
}

// Wrap attaches an underlying cause while preserving sentinel matching.
func Wrap(sentinel *Error, err error) error { return sentinel.withErr(err) }

// WrapEvent attaches both an event id and an underlying cause.
func WrapEvent(sentinel *Error, eventID id.EventID, err error) error {
	return sentinel.withEvent(eventID).withErr(err)
}

// IncompatibleVersionErr builds the incompatible_version(v) error.
func IncompatibleVersionErr(v id.RoomVersion) error {
	return IncompatibleVersion.withDetail("room version %q", v)
}
