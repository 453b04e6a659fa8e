package model

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned for every action when no backend URL/key is set.
var ErrNotConfigured = errors.New("backend not configured")

// NetworkError is a transient transport failure (timeout, connectivity, 5xx).
type NetworkError struct {
	Op  string
	Err error
}

func (e NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": network error"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e NetworkError) Unwrap() error { return e.Err }

// ValidationError is rejected input, either locally or by the backend.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError means the mutation target no longer exists remotely.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne NetworkError
	return errors.As(err, &ne)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// Describe turns an error into the single line shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var (
		ve ValidationError
		nf NotFoundError
	)
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "Not connected to a backend. Run `groceries config set url ...` and `groceries config set anon_key ...`."
	case errors.As(err, &ve):
		if ve.Field == "" {
			return "Invalid input: " + ve.Reason
		}
		return fmt.Sprintf("Invalid %s: %s", ve.Field, ve.Reason)
	case errors.As(err, &nf):
		return "That item no longer exists. The list has been refreshed."
	case IsNetwork(err):
		return "Can't reach the server. Check your connection and try again."
	}
	return err.Error()
}
