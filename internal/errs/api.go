package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the structured error payload returned by the matching service.
type APIError struct {
	Status  int               `json:"status"`
	Title   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api %d", e.Status)
}

// Unwrap maps well-known statuses onto sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// ValidationError describes a rejected client-side input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Field + ": " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Message returns the text shown to a user for err: the server message when the
// server sent one, the validation reason for client-side rejections, else fallback.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var ae *APIError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Reason != "" {
		return ve.Reason
	}
	return fallback
}
