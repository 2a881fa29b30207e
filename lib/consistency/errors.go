package consistency

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

type ErrCode uint64

const (
	ErrCSuccess          ErrCode = iota // 0: Operation executed successfully.
	ErrCNotLeader                       // 1: Local node cannot commit CP writes, follow the leader hint.
	ErrCUnavailable                     // 2: No quorum or engine still loading, retry later.
	ErrCTimeout                         // 3: Ambiguous - the operation may or may not have been applied.
	ErrCConflict                        // 4: Lost a first-writer-wins race (lock, put-if-absent).
	ErrCMembershipChange                // 5: A raft membership change is already in flight.
	ErrCInvalidOperation                // 6: Kind/verb combination not served.
	ErrCInternal                        // 7: Unexpected engine failure.
)

func (c ErrCode) String() string {
	switch c {
	case ErrCSuccess:
		return "Success"
	case ErrCNotLeader:
		return "NotLeader"
	case ErrCUnavailable:
		return "Unavailable"
	case ErrCTimeout:
		return "Timeout"
	case ErrCConflict:
		return "Conflict"
	case ErrCMembershipChange:
		return "MembershipChangeInProgress"
	case ErrCInvalidOperation:
		return "InvalidOperation"
	case ErrCInternal:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type surfaced by the consistency engines. It wraps a
// numeric code, a message and - for ErrCNotLeader - a hint naming the member
// currently believed to be the leader.
type Error struct {
	Code   ErrCode // the error code
	Msg    string  // the error message
	Leader string  // leader hint, only set for ErrCNotLeader and only when known
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Leader != "" {
		return fmt.Sprintf("ConsistencyError (code %s): %s (leader: %s)", e.Code, e.Msg, e.Leader)
	}
	return fmt.Sprintf("ConsistencyError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrCode, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// NewNotLeaderError creates an ErrCNotLeader error carrying the leader hint.
// Pass an empty hint if the leader is currently unknown.
func NewNotLeaderError(hint string) *Error {
	return &Error{
		Code:   ErrCNotLeader,
		Msg:    "not the leader",
		Leader: hint,
	}
}

// --------------------------------------------------------------------------
// Error Inspection Helpers
// --------------------------------------------------------------------------

// CodeOf extracts the ErrCode from an error. A nil error maps to ErrCSuccess,
// a non-consistency error to ErrCInternal.
func CodeOf(err error) ErrCode {
	if err == nil {
		return ErrCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCInternal
}

// LeaderHintOf extracts the leader hint from an ErrCNotLeader error.
func LeaderHintOf(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Code == ErrCNotLeader && e.Leader != "" {
		return e.Leader, true
	}
	return "", false
}

// IsRetryable reports whether the operation can be retried as-is. Timeouts
// are excluded: the operation may already have been applied, so retrying is
// only safe for idempotent operations and that is the caller's call.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCNotLeader, ErrCUnavailable, ErrCMembershipChange:
		return true
	default:
		return false
	}
}
