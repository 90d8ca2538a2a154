// Package apperr defines the error kinds surfaced by the campaign engine.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a machine-stable error kind.
type Kind string

const (
	KindUnauthenticated      Kind = "UNAUTHENTICATED"
	KindForbidden            Kind = "FORBIDDEN"
	KindNotFound             Kind = "NOT_FOUND"
	KindValidation           Kind = "VALIDATION_ERROR"
	KindInvalidTransition    Kind = "INVALID_TRANSITION"
	KindAlreadyParticipating Kind = "ALREADY_PARTICIPATING"
	KindAlreadyPaid          Kind = "ALREADY_PAID"
	KindCampaignFull         Kind = "CAMPAIGN_FULL"
	KindPhaseNotJoinable     Kind = "PHASE_NOT_JOINABLE"
	KindPhaseNotPayable      Kind = "PHASE_NOT_PAYABLE"
	KindNotAParticipant      Kind = "NOT_A_PARTICIPANT"
	KindInternal             Kind = "INTERNAL"
)

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindInvalidTransition, KindAlreadyParticipating, KindAlreadyPaid,
		KindCampaignFull, KindPhaseNotJoinable, KindPhaseNotPayable, KindNotAParticipant:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a business error with a stable kind and a display message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Internal hides cause behind an opaque message.
func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal error", cause)
}

// KindOf returns the kind of err, or KindInternal for anything untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthenticated      = New(KindUnauthenticated, "authentication required")
	ErrForbidden            = New(KindForbidden, "administrator access required")
	ErrCampaignNotFound     = New(KindNotFound, "campaign not found")
	ErrProductNotFound      = New(KindNotFound, "product not found")
	ErrInvalidTransition    = New(KindInvalidTransition, "phase transition not allowed")
	ErrAlreadyParticipating = New(KindAlreadyParticipating, "you have already joined this campaign")
	ErrAlreadyPaid          = New(KindAlreadyPaid, "you have already paid for this campaign")
	ErrCampaignFull         = New(KindCampaignFull, "campaign has reached its participant limit")
	ErrPhaseNotJoinable     = New(KindPhaseNotJoinable, "campaign is not open for participation")
	ErrPhaseNotPayable      = New(KindPhaseNotPayable, "campaign is not collecting payments")
	ErrNotAParticipant      = New(KindNotAParticipant, "you have not joined this campaign")
)
