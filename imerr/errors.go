// Package imerr defines the closed set of error kinds the SDK's public
// API surfaces, per spec §7. Every boundary-crossing error is wrapped
// into an *imerr.Error so callers can switch on Kind instead of
// parsing messages.
package imerr

import "fmt"

// Kind is the closed enumeration of error categories this SDK returns.
type Kind string

const (
	NotInitialized            Kind = "not_initialized"
	NotLoggedIn                Kind = "not_logged_in"
	AuthFailed                 Kind = "auth_failed"
	NetworkUnavailable         Kind = "network_unavailable"
	ConnectionFailed           Kind = "connection_failed"
	Timeout                    Kind = "timeout"
	MaxReconnectAttemptsReached Kind = "max_reconnect_attempts_reached"
	PacketLoss                 Kind = "packet_loss"
	ProtocolError              Kind = "protocol_error"
	SequenceAbnormal           Kind = "sequence_abnormal"
	MessageNotFound            Kind = "message_not_found"
	PermissionDenied           Kind = "permission_denied"
	RevokeTimeExpired          Kind = "revoke_time_expired"
	SendFailed                 Kind = "send_failed"
	Duplicate                  Kind = "duplicate"
	StoreError                 Kind = "store_error"
	Custom                     Kind = "custom"
)

// ProtocolCause distinguishes the four frame-decode failure modes of
// spec §4.1. Only meaningful when Kind == ProtocolError.
type ProtocolCause string

const (
	CauseMagic    ProtocolCause = "magic"
	CauseVersion  ProtocolCause = "version"
	CauseCRC      ProtocolCause = "crc"
	CauseTooLarge ProtocolCause = "too_large"
)

// Error is the single error type returned across the SDK boundary.
type Error struct {
	Kind    Kind
	Cause   ProtocolCause // only set for Kind == ProtocolError
	Message string
	Err     error // wrapped underlying error, if any

	// Gap fields, only set for Kind == PacketLoss.
	Expected uint32
	Received uint32
	Gap      int64
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Protocol builds a protocol_error with a specific decode-failure cause.
func Protocol(cause ProtocolCause, msg string) *Error {
	return &Error{Kind: ProtocolError, Cause: cause, Message: msg}
}

// Loss builds a packet_loss error carrying the observed gap.
func Loss(expected, received uint32, gap int64) *Error {
	return &Error{Kind: PacketLoss, Expected: expected, Received: received, Gap: gap}
}

// Store builds a store_error wrapping the sub-system failure.
func Store(sub error) *Error {
	return &Error{Kind: StoreError, Err: sub}
}

// Is reports whether err is an *Error of the given kind, unwrapping as
// needed. Lets callers write `if imerr.Is(err, imerr.Timeout) { ... }`.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		break
	}
	return false
}
