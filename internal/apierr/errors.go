// Package apierr defines the error taxonomy shared by the auth flow, the
// calendar client and the sync orchestrator.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// AuthenticationError reports a missing, rejected or unusable credential.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure or a 5xx response.
type NetworkError struct {
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error: %s: %v", e.Message, e.Err)
	}
	return "network error: " + e.Message
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError reports any other non-success response from the provider.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// ValidationError reports malformed local input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Auth builds an AuthenticationError.
func Auth(msg string, err error) error {
	return &AuthenticationError{Message: msg, Err: err}
}

// Validation builds a ValidationError.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// FromHTTP classifies a non-success status code.
// 401 and 403 are authentication failures, 5xx are network failures and
// everything else is a generic API error carrying the status.
func FromHTTP(status int, msg string, err error) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthenticationError{Message: msg, Err: err}
	case status >= http.StatusInternalServerError:
		return &NetworkError{Message: msg, Err: err}
	default:
		return &APIError{StatusCode: status, Message: msg, Err: err}
	}
}

// Classify maps an error returned by the provider SDKs onto the taxonomy.
// Errors that already belong to the taxonomy are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		authErr  *AuthenticationError
		netErr   *NetworkError
		apiErr   *APIError
		valErr   *ValidationError
		gErr     *googleapi.Error
		retrieve *oauth2.RetrieveError
	)
	switch {
	case errors.As(err, &authErr), errors.As(err, &netErr), errors.As(err, &apiErr), errors.As(err, &valErr):
		return err
	case errors.As(err, &gErr):
		return FromHTTP(gErr.Code, gErr.Message, err)
	case errors.As(err, &retrieve):
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		if status >= http.StatusInternalServerError {
			return &NetworkError{Message: "token endpoint unavailable", Err: err}
		}
		return &AuthenticationError{Message: "token request rejected", Err: err}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &NetworkError{Message: "calendar api temporarily unavailable", Err: err}
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &NetworkError{Message: "request failed", Err: err}
	}
}

// IsAuth reports whether err is an AuthenticationError.
func IsAuth(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
