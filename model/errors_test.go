package model

import (
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrRemoteRejection, Message: "catalog refused the transition"}
	want := "REMOTE_REJECTION: catalog refused the transition"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"envelope", NewMovePendingError("e1"), ErrMovePending},
		{"wrapped", fmt.Errorf("move: %w", NewForbiddenError("no")), ErrForbidden},
		{"plain", fmt.Errorf("boom"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "justification", Code: "REQUIRED", Message: "A justification is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "justification" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "justification")
	}
}

func TestConstructors_codes(t *testing.T) {
	tests := []struct {
		err  *ErrorEnvelope
		want string
	}{
		{NewBadRequestError("bad json"), ErrBadRequest},
		{NewUnauthorizedError("missing token"), ErrUnauthorized},
		{NewForbiddenError("denied"), ErrForbidden},
		{NewNotFoundError("gone"), ErrNotFound},
		{NewConflictError("dup"), ErrConflict},
		{NewRemoteRejectionError("409"), ErrRemoteRejection},
		{NewFetchFailureError("timeout"), ErrFetchFailure},
		{NewMovePendingError("e1"), ErrMovePending},
		{NewSessionNotFoundError("s1"), ErrSessionNotFound},
		{NewInternalError(), ErrInternalError},
		{NewBackendUnavailableError(), ErrBackendUnavailable},
		{NewBackendTimeoutError(), ErrBackendTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if tt.err.Code != tt.want {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.want)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}
