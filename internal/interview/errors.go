package interview

import (
	"errors"
	"net/http"
)

type Kind string

const (
	Unauthenticated    Kind = "unauthenticated"
	Forbidden          Kind = "forbidden"
	QuotaExceeded      Kind = "quota_exceeded"
	RateLimited        Kind = "rate_limited"
	PreconditionFailed Kind = "precondition_failed"
	InvalidInput       Kind = "invalid_input"
	PersistenceFailed  Kind = "persistence_failed"
	GenerationFailed   Kind = "generation_failed"
)

const (
	MsgUnauthenticated  = "You are not logged in"
	MsgPlanLimit        = "You have reached your plan limit. Upgrade to continue."
	MsgRateLimited      = "Woah! Slow down. Please try again later."
	MsgPermission       = "You don't have permission to do this."
	MsgCreateFailed     = "Failed to create interview. Please try again."
	MsgUpdateFailed     = "Failed to update interview. Please try again."
	MsgNotCompleted     = "Interview has not been completed yet"
	MsgFeedbackEmpty    = "Failed to generate feedback"
	MsgFeedbackFailed   = "Failed to generate feedback. Please try again."
	MsgInvalidDuration  = "Duration must be formatted as HH:MM:SS"
	MsgUnexpectedFailed = "Something went wrong. Please try again."
)

// ActionError is a failure the caller is expected to show to the user.
type ActionError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *ActionError) Unwrap() error { return e.Err }

func fail(kind Kind, msg string, cause error) error {
	return &ActionError{Kind: kind, Message: msg, Err: cause}
}

// KindOf returns the kind of an ActionError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return MsgUnexpectedFailed
}

// HTTPStatus maps err to the status the API answers with.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden, QuotaExceeded:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case PreconditionFailed:
		return http.StatusConflict
	case InvalidInput:
		return http.StatusBadRequest
	case GenerationFailed:
		return http.StatusBadGateway
	case PersistenceFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindForStatus is the inverse of HTTPStatus for clients decoding an
// error response. 403 is reported as Forbidden.
func KindForStatus(status int) (Kind, bool) {
	switch status {
	case http.StatusUnauthorized:
		return Unauthenticated, true
	case http.StatusForbidden:
		return Forbidden, true
	case http.StatusTooManyRequests:
		return RateLimited, true
	case http.StatusConflict:
		return PreconditionFailed, true
	case http.StatusBadRequest:
		return InvalidInput, true
	case http.StatusBadGateway:
		return GenerationFailed, true
	case http.StatusServiceUnavailable:
		return PersistenceFailed, true
	default:
		return "", false
	}
}

// Restore rebuilds an ActionError decoded from an API response.
func Restore(kind Kind, msg string) error {
	return &ActionError{Kind: kind, Message: msg}
}
