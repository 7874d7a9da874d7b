// Package ack stores delivery acknowledgments still owed by a sender. An
// entry lives from the moment a message is fanned out until the sender's
// client confirms it processed the delivery receipt.
package ack

import (
	"context"
	"time"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Entry is one outstanding acknowledgment, keyed by the client-chosen id of
// the original message.
type Entry struct {
	ClientID  string    `json:"clientId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConfirmResult reports a confirm call per id. Confirming an id that is
// absent is not an error; it lands in NotFound.
type ConfirmResult struct {
	Removed  int      `json:"removed"`
	NotFound []string `json:"notFound"`
}

type Store interface {
	// Enqueue records an outstanding ack. Re-enqueueing an existing id
	// keeps the original creation time.
	Enqueue(ctx context.Context, roomID, senderID, clientID string) error

	// List returns outstanding acks oldest first.
	List(ctx context.Context, roomID, senderID string, limit int) ([]Entry, error)

	// Reminder returns outstanding acks older than the given age, oldest
	// first.
	Reminder(ctx context.Context, roomID, senderID string, olderThan time.Duration, limit int) ([]Entry, error)

	// Confirm removes the given ids.
	Confirm(ctx context.Context, roomID, senderID string, clientIDs []string) (ConfirmResult, error)
}

// ClampLimit normalizes a caller-supplied page size.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}
