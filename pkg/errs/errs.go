// Package errs defines the error taxonomy shared by the chat subsystem.
// Kinds are sentinel errors matched with errors.Is; callers add context with
// the wrap helpers so the kind survives the chain.
package errs

import "github.com/pkg/errors"

var (
	// ErrProtocol marks a malformed wire frame. Sessions drop these
	// silently; they are never fatal to the connection.
	ErrProtocol = errors.New("malformed frame")

	// ErrAuth marks an invalid credential at connect time.
	ErrAuth = errors.New("invalid credentials")

	// ErrNotFound marks an unknown room, cursor or user.
	ErrNotFound = errors.New("not found")

	// ErrTransport marks a bridge join/send failure. Best-effort: local
	// fan-out has already succeeded when this is raised.
	ErrTransport = errors.New("bridge transport failure")

	// ErrPersistence marks a failed flush or upsert. Buffered data is
	// retried on the next tick while it stays resident.
	ErrPersistence = errors.New("persistence failure")

	// ErrConflict marks concurrent channel-handle creation. Resolved
	// internally by the bridge lock and never surfaced to callers.
	ErrConflict = errors.New("conflicting operation")
)

func Protocol(format string, args ...any) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

func NotFound(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

func Transport(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrTransport, format+": %v", append(args, err)...)
}

func Persistence(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrPersistence, format+": %v", append(args, err)...)
}
