package domain

import (
	"errors"
	"net/http"
)

// Kind classifies an error for transport mapping. Every error that reaches
// the HTTP boundary carries exactly one Kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindNotAuthorized
	KindConflict
	KindNotFound
	KindValidation
	KindResourceExhausted
	KindUpstream
)

// Stable wire codes. Handlers and clients match on these, never on messages.
const (
	CodeBadSignature    = "BAD_SIGNATURE"
	CodeTimestampSkew   = "TIMESTAMP_SKEW"
	CodeUnknownClaw     = "UNKNOWN_CLAW"
	CodeNotMember       = "NOT_MEMBER"
	CodeInsufficient    = "INSUFFICIENT_PERMISSIONS"
	CodeDuplicate       = "DUPLICATE"
	CodeAlreadyFriends  = "ALREADY_FRIENDS"
	CodeDuplicateReq    = "DUPLICATE_REQUEST"
	CodeGroupFull       = "GROUP_FULL"
	CodeClawIDCollision = "CLAW_ID_COLLISION"
	CodePublicKeyTaken  = "PUBLIC_KEY_TAKEN"
	CodeNotFound        = "NOT_FOUND"
	CodeClawNotFound    = "CLAW_NOT_FOUND"
	CodeNoInvitation    = "NO_INVITATION"
	CodeSelfRequest     = "SELF_REQUEST"
	CodeEditWindow      = "EDIT_WINDOW_CLOSED"
	CodeValidation      = "VALIDATION_FAILED"
	CodeForbiddenURL    = "FORBIDDEN_URL"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUpstream        = "UPSTREAM_UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// Error is the one error type surfaced to the wire. Internal causes are
// wrapped with %w below it and never serialized.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details interface{}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// HTTPStatus maps the Kind onto the response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newErr(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Unauthenticated builds a 401 error with the given code.
func Unauthenticated(code, message string) *Error {
	return newErr(KindAuthentication, code, message)
}

// Forbidden builds a 403 error.
func Forbidden(code, message string) *Error {
	return newErr(KindNotAuthorized, code, message)
}

// Conflict builds a 409 error.
func Conflict(code, message string) *Error {
	return newErr(KindConflict, code, message)
}

// NotFound builds a 404 error.
func NotFound(code, message string) *Error {
	return newErr(KindNotFound, code, message)
}

// Invalid builds a 400 error.
func Invalid(code, message string) *Error {
	return newErr(KindValidation, code, message)
}

// InvalidDetails builds a 400 error carrying structured details.
func InvalidDetails(code, message string, details interface{}) *Error {
	e := newErr(KindValidation, code, message)
	e.Details = details
	return e
}

// RateLimited builds a 429 error.
func RateLimited(message string) *Error {
	return newErr(KindResourceExhausted, CodeRateLimited, message)
}

// Upstream builds a 502 error.
func Upstream(message string) *Error {
	return newErr(KindUpstream, CodeUpstream, message)
}

// AsError unwraps err to the nearest *Error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the wire code of err, or CodeInternal for untyped errors.
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternal
}
