// Package gwerr defines the error taxonomy shared across the gateway's
// core and its admin HTTP surface.
package gwerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error at the core boundary so callers (chiefly the
// admin API) can map it to a status code without inspecting messages.
type Kind string

const (
	InvalidProjectName   Kind = "invalid_project_name"
	ProjectNotFound      Kind = "project_not_found"
	ProjectAlreadyExists Kind = "project_already_exists"
	ProjectUnavailable   Kind = "project_unavailable"
	ServiceUnavailable   Kind = "service_unavailable"
	Internal             Kind = "internal"
)

// Error wraps an underlying cause with a Kind for classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Internal if err does not
// wrap a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
