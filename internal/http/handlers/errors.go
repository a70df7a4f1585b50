// Package handlers implements the REST and WebSocket endpoints.
//
// Every failure leaves through fail() with one of the codes below, so clients
// can branch on "code" and ignore the message text:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "forbidden",
//	  "message": "not a participant of this conversation"
//	}
package handlers

const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "too_many_requests"
	ErrCodeInternal           = "internal_error"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
	ErrCodeServiceUnavailable = "service_unavailable"

	// ErrCodeQuotaExceeded is sent with 429 when a free user has used up the
	// day's messages. The body also carries upgrade_hint and resets_at.
	ErrCodeQuotaExceeded = "quota_exceeded"
)
