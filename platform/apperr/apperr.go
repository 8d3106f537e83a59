// Package apperr defines the typed errors funnel services return. The HTTP
// layer reads Kind to choose the status code and the stable error code.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound also covers resources owned by another tenant.
	KindNotFound
	KindValidation
	KindConflict
	KindForbidden
	KindUnauthorized
	KindBadRequest
	KindInternal
	// KindInvalidTransition is a stage edge outside the allowed graph, or an
	// unknown stage.
	KindInvalidTransition
	// KindTerminalStage is a move out of a terminal stage.
	KindTerminalStage
	// KindMisconfigured is missing or unusable tenant configuration, such as
	// an empty scoring rule table.
	KindMisconfigured
	// KindDeliveryFailed is a sequence step that exhausted its attempts.
	KindDeliveryFailed
)

type kindInfo struct {
	code   string
	status int
}

var kinds = map[Kind]kindInfo{
	KindUnknown:           {"UNKNOWN", http.StatusBadRequest},
	KindNotFound:          {"NOT_FOUND", http.StatusNotFound},
	KindValidation:        {"VALIDATION", http.StatusBadRequest},
	KindConflict:          {"CONFLICT", http.StatusConflict},
	KindForbidden:         {"FORBIDDEN", http.StatusForbidden},
	KindUnauthorized:      {"UNAUTHORIZED", http.StatusUnauthorized},
	KindBadRequest:        {"BAD_REQUEST", http.StatusBadRequest},
	KindInternal:          {"INTERNAL", http.StatusInternalServerError},
	KindInvalidTransition: {"INVALID_TRANSITION", http.StatusConflict},
	KindTerminalStage:     {"TERMINAL_STAGE", http.StatusConflict},
	KindMisconfigured:     {"MISCONFIGURED_RULES", http.StatusUnprocessableEntity},
	KindDeliveryFailed:    {"DELIVERY_FAILED", http.StatusBadGateway},
}

func (k Kind) info() kindInfo {
	if info, ok := kinds[k]; ok {
		return info
	}
	return kinds[KindUnknown]
}

// Code is the machine-readable identifier returned to API clients.
func (k Kind) Code() string { return k.info().code }

func (k Kind) HTTPStatus() int { return k.info().status }

type Error struct {
	Kind    Kind
	Message string
	Err     error
	// Details is serialized into the error response as-is.
	Details interface{}
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int { return e.Kind.HTTPStatus() }

// WithDetails attaches details to e and returns it.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error          { return New(KindNotFound, message) }
func Validation(message string) *Error        { return New(KindValidation, message) }
func BadRequest(message string) *Error        { return New(KindBadRequest, message) }
func InvalidTransition(message string) *Error { return New(KindInvalidTransition, message) }
func TerminalStage(message string) *Error     { return New(KindTerminalStage, message) }
func Misconfigured(message string) *Error     { return New(KindMisconfigured, message) }

func DeliveryFailed(message string, err error) *Error {
	return Wrap(KindDeliveryFailed, message, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
