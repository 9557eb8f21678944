package resolution

import (
	"errors"
	"net/http"
)

// Kind classifies resolution failures.
type Kind string

const (
	// KindNotFound means the referenced provider, model or credential does not exist.
	KindNotFound Kind = "not_found"
	// KindUnavailable means the entity exists but nothing usable is configured.
	KindUnavailable Kind = "unavailable"
	// KindInvariantViolation means a mutation would break a data invariant.
	KindInvariantViolation Kind = "invariant_violation"
)

// Error is a typed resolution failure. Two errors match under errors.Is when their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// Is matches sentinel errors by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// StatusCode maps the error kind to an HTTP status.
func (e *Error) StatusCode() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindInvariantViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(message string) *Error {
	if e == nil {
		return nil
	}
	return &Error{Kind: e.Kind, Code: e.Code, Message: message}
}

var (
	ErrProviderNotFound   = &Error{Kind: KindNotFound, Code: "provider_not_found", Message: "provider not found"}
	ErrModelNotFound      = &Error{Kind: KindNotFound, Code: "model_not_found", Message: "model not found"}
	ErrCredentialNotFound = &Error{Kind: KindNotFound, Code: "credential_not_found", Message: "credential not found"}
	ErrNoActiveCredential = &Error{Kind: KindUnavailable, Code: "no_active_credential", Message: "no active credential for provider"}
	ErrNoActiveProvider   = &Error{Kind: KindUnavailable, Code: "no_active_provider", Message: "no active provider for model"}
	ErrProviderNotMapped  = &Error{Kind: KindNotFound, Code: "provider_not_mapped", Message: "provider is not mapped to model"}
	ErrLastProvider       = &Error{Kind: KindInvariantViolation, Code: "last_provider", Message: "model must keep at least one provider"}
	ErrProviderProtected  = &Error{Kind: KindInvariantViolation, Code: "provider_protected", Message: "builtin or primary provider cannot be deleted"}
)

// KindOf returns the kind of a resolution error, or "" for other errors.
func KindOf(err error) Kind {
	var resErr *Error
	if errors.As(err, &resErr) && resErr != nil {
		return resErr.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound resolution error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnavailable reports whether err is an Unavailable resolution error.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}
