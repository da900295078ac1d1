package model

import "errors"

var (
	ErrInvalidConversationTarget = errors.New("invalid conversation target")
	ErrInvalidGroupSpec          = errors.New("invalid group spec")
	ErrUnknownMessage            = errors.New("unknown message")
	ErrStaleSession              = errors.New("stale session")
	ErrTransportUnavailable      = errors.New("transport unavailable")

	ErrInvalidMessage = errors.New("invalid message")
	ErrNotMember      = errors.New("not a member")
	ErrGroupNotFound  = errors.New("group not found")
	ErrNotGroupAdmin  = errors.New("not a group admin")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate limited")
)

// ErrorCode is the stable code sent to clients in error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidConversationTarget):
		return "invalid_conversation_target"
	case errors.Is(err, ErrInvalidGroupSpec):
		return "invalid_group_spec"
	case errors.Is(err, ErrUnknownMessage):
		return "unknown_message"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	case errors.Is(err, ErrGroupNotFound):
		return "group_not_found"
	case errors.Is(err, ErrNotGroupAdmin):
		return "not_group_admin"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTransportUnavailable):
		return "transport_unavailable"
	}
	return "internal"
}
