// Package driver abstracts the container runtime the project state machine
// drives. The only production implementation talks to a Docker daemon.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/gatewayd/pkg/types"
)

// Kind classifies a driver error so the state machine can decide whether to
// retry, recreate, or fail terminally.
type Kind string

const (
	NotFound      Kind = "not_found"
	AlreadyExists Kind = "already_exists"
	Transient     Kind = "transient"
	Fatal         Kind = "fatal"
)

// Error wraps a driver failure with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Fatal
}

// Status is the driver's ground-truth view of a container.
type Status struct {
	Running bool
	Address string // container IP on its attached network, empty if none
	Image   string
	Labels  map[string]string
}

// Driver is the capability the state machine needs from the container
// runtime: create/inspect/start/stop/remove.
type Driver interface {
	Create(ctx context.Context, name string, settings types.ContainerSettings) (containerID string, err error)
	Inspect(ctx context.Context, containerID string) (Status, error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string, force bool) error
}
