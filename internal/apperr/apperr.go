// Package apperr defines the typed error taxonomy shared by every component
// of the mission service. Components return *Error values; the HTTP layer
// maps their Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindConfig     Kind = "config"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation"
	KindQuota      Kind = "quota"
	KindStore      Kind = "store"
)

// Code is a stable, machine-readable identifier surfaced to operators.
type Code string

const (
	// Auth
	CodeTokenMissing          Code = "token_missing"
	CodeTokenMalformed        Code = "token_malformed"
	CodeTokenSignatureInvalid Code = "token_signature_invalid"
	CodeTokenExpired          Code = "token_expired"
	CodeTokenOrgMismatch      Code = "token_org_mismatch"
	CodeScopeMissing          Code = "scope_missing"
	CodeInternalKeyInvalid    Code = "internal_key_invalid"

	// Config
	CodeSecretMissing Code = "auth_secret_missing"
	CodeOrgMissing    Code = "auth_org_missing"
	CodeConfigInvalid Code = "config_invalid"

	CodeTaskNotFound     Code = "task_not_found"
	CodeMissionNotFound  Code = "mission_not_found"
	CodeCampaignNotFound Code = "campaign_not_found"

	CodeTaskCompleted Code = "task_completed"
	CodeTaskTerminal  Code = "task_terminal"

	CodeInvalidInput  Code = "invalid_input"
	CodeNoScopes      Code = "no_scopes_granted"
	CodeQuotaExceeded Code = "quota_exceeded"
	CodeStoreFailure  Code = "store_failure"
	CodeRateLimited   Code = "rate_limited"
	CodeInternal      Code = "internal_error"
)

// Error is the concrete error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// Missing lists every scope that was required but not granted.
	Missing []string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error to the status code the transport should use.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		if e.Code == CodeScopeMissing {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindQuota:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Auth(code Code, msg string) *Error { return New(KindAuth, code, msg) }

func Config(code Code, msg string) *Error { return New(KindConfig, code, msg) }

func NotFound(code Code, msg string) *Error { return New(KindNotFound, code, msg) }

func Conflict(code Code, msg string) *Error { return New(KindConflict, code, msg) }

func Validation(msg string) *Error { return New(KindValidation, CodeInvalidInput, msg) }

// Store wraps a backing-store failure. The message is the underlying error
// text so operators can act on it.
func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, Code: CodeStoreFailure, Message: op, Err: err}
}

// WithDetails attaches structured details and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from err, if there is one in its chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	ae, ok := As(err)
	return ok && ae.Kind == kind
}

// StatusOf returns the HTTP status for any error; untyped errors are 500.
func StatusOf(err error) int {
	if ae, ok := As(err); ok {
		return ae.HTTPStatus()
	}
	return http.StatusInternalServerError
}
