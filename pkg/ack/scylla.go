package ack

import (
	"context"
	"time"

	"github.com/gocql/gocql"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
)

// Scylla persists outstanding acks in the pending_acks table, partitioned by
// (room_id, sender_id) and clustered by client_id. Rows are ordered by id,
// not age, so age ordering is restored in memory after the fetch; partitions
// are bounded by MaxLimit.
type Scylla struct {
	session *gocql.Session
	now     func() time.Time
}

func NewScylla(session *gocql.Session) *Scylla {
	return &Scylla{session: session, now: time.Now}
}

func (s *Scylla) Enqueue(ctx context.Context, roomID, senderID, clientID string) error {
	// IF NOT EXISTS keeps the original created_at on re-enqueue.
	_, err := s.session.Query(
		`INSERT INTO pending_acks (room_id, sender_id, client_id, created_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		roomID, senderID, clientID, s.now(),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return errs.Persistence(err, "enqueue pending ack")
	}
	return nil
}

func (s *Scylla) List(ctx context.Context, roomID, senderID string, limit int) ([]Entry, error) {
	return s.Reminder(ctx, roomID, senderID, 0, limit)
}

func (s *Scylla) Reminder(ctx context.Context, roomID, senderID string, olderThan time.Duration, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	cutoff := s.now().Add(-olderThan)

	iter := s.session.Query(
		`SELECT client_id, created_at FROM pending_acks WHERE room_id = ? AND sender_id = ? LIMIT ?`,
		roomID, senderID, MaxLimit,
	).WithContext(ctx).Iter()

	var out []Entry
	var e Entry
	for iter.Scan(&e.ClientID, &e.CreatedAt) {
		if olderThan > 0 && e.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, e)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Persistence(err, "list pending acks")
	}

	sortOldestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Scylla) Confirm(ctx context.Context, roomID, senderID string, clientIDs []string) (ConfirmResult, error) {
	var res ConfirmResult
	for _, id := range clientIDs {
		applied, err := s.session.Query(
			`DELETE FROM pending_acks WHERE room_id = ? AND sender_id = ? AND client_id = ? IF EXISTS`,
			roomID, senderID, id,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return res, errs.Persistence(err, "confirm pending ack %s", id)
		}
		if applied {
			res.Removed++
		} else {
			res.NotFound = append(res.NotFound, id)
		}
	}
	return res, nil
}
