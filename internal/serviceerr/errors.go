// Package serviceerr defines the error taxonomy of the gateway and its
// mapping onto HTTP statuses.
package serviceerr

import "net/http"

type Code string

const (
	// Credential rejection: the scheduling backend refused a login or
	// registration payload. Recoverable by the caller with corrected input.
	CodeInvalidCredentials Code = "invalid_credentials"

	// Unauthorized: the backend answered 401 on an authenticated request.
	// Terminal for the current session, never handled locally.
	CodeUnauthorized Code = "unauthorized"

	// Exchange failure: the one-time OAuth session identifier was invalid,
	// expired, or already consumed.
	CodeExchangeFailed Code = "exchange_failed"

	// Malformed redirect: the callback fragment matched the trigger pattern
	// but carried no usable identifier.
	CodeMalformedRedirect Code = "malformed_redirect"

	CodeFingerprintMismatch Code = "fingerprint_mismatch"
	CodeConflict            Code = "conflict"
	CodeNotFound            Code = "not_found"
	CodeBackendUnavailable  Code = "backend_unavailable"
	CodeUnknown             Code = "unknown"
)

var codeToHTTPStatus = map[Code]int{
	CodeInvalidCredentials:  http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeExchangeFailed:      http.StatusUnauthorized,
	CodeMalformedRedirect:   http.StatusBadRequest,
	CodeFingerprintMismatch: http.StatusForbidden,
	CodeConflict:            http.StatusConflict,
	CodeNotFound:            http.StatusNotFound,
	CodeBackendUnavailable:  http.StatusBadGateway,
	CodeUnknown:             http.StatusInternalServerError,
}

// Error carries a taxonomy code plus the human-readable detail string the
// backend attached to the failure, if any.
type Error struct {
	Err         Code
	Description string
}

var (
	ErrUnauthorized        = &Error{Err: CodeUnauthorized, Description: "not authenticated"}
	ErrExchangeFailed      = &Error{Err: CodeExchangeFailed, Description: "session exchange failed"}
	ErrMalformedRedirect   = &Error{Err: CodeMalformedRedirect, Description: "redirect fragment carries no session identifier"}
	ErrFingerprintMismatch = &Error{Err: CodeFingerprintMismatch, Description: "fingerprint mismatch"}
	ErrConflict            = &Error{Err: CodeConflict, Description: "already exists"}
	ErrNotFound            = &Error{Err: CodeNotFound, Description: "not found"}
	ErrUnknown             = &Error{Err: CodeUnknown, Description: "unknown error"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// Is matches errors by taxonomy code, so a backend-provided detail string
// does not break errors.Is checks against the predefined values.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Err == e.Err
}

// HTTPStatus returns the status the gateway answers with for this error.
// Unknown codes map to 500.
func (e *Error) HTTPStatus() int {
	if status, ok := codeToHTTPStatus[e.Err]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// CredentialRejection wraps a backend-provided detail string as a
// caller-recoverable rejection.
func CredentialRejection(detail string) *Error {
	if detail == "" {
		detail = "credentials rejected"
	}

	return &Error{Err: CodeInvalidCredentials, Description: detail}
}
