package store

import (
	"context"
	"time"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
)

// IncrementUnread bumps a user's unread counter for a room.
func (s *Store) IncrementUnread(ctx context.Context, userID, roomID string, n int64) error {
	if err := s.session.Query(
		`UPDATE conversation_counters SET unread_count = unread_count + ? WHERE user_id = ? AND room_id = ?`,
		n, userID, roomID,
	).WithContext(ctx).Exec(); err != nil {
		return errs.Persistence(err, "increment unread for %s/%s", userID, roomID)
	}
	return nil
}

// ResetUnread zeroes a user's unread counter for a room. The counter row is
// deleted rather than decremented, so the count can never go negative and
// the conversation summary row stays untouched.
func (s *Store) ResetUnread(ctx context.Context, userID, roomID string) error {
	if err := s.session.Query(
		`DELETE FROM conversation_counters WHERE user_id = ? AND room_id = ?`,
		userID, roomID,
	).WithContext(ctx).Exec(); err != nil {
		return errs.Persistence(err, "reset unread for %s/%s", userID, roomID)
	}
	return nil
}

// UnreadCounts returns every room with a nonzero unread count for a user,
// merged with the conversation summary metadata.
func (s *Store) UnreadCounts(ctx context.Context, userID string) ([]model.UnreadEntry, error) {
	counts := map[string]int64{}
	iter := s.session.Query(
		`SELECT room_id, unread_count FROM conversation_counters WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Iter()
	var roomID string
	var count int64
	for iter.Scan(&roomID, &count) {
		if count > 0 {
			counts[roomID] = count
		}
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Persistence(err, "scan unread counters for %s", userID)
	}

	out := make([]model.UnreadEntry, 0, len(counts))
	iter = s.session.Query(
		`SELECT room_id, last_message_ref, last_message_at FROM user_conversations WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Iter()
	var ref string
	var at time.Time
	for iter.Scan(&roomID, &ref, &at) {
		if n, ok := counts[roomID]; ok {
			out = append(out, model.UnreadEntry{
				RoomID:         roomID,
				UnreadCount:    n,
				LastMessageRef: ref,
				LastMessageAt:  at,
			})
			delete(counts, roomID)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Persistence(err, "scan conversations for %s", userID)
	}

	// Counters with no summary row yet (flusher still behind).
	for roomID, n := range counts {
		out = append(out, model.UnreadEntry{RoomID: roomID, UnreadCount: n})
	}
	return out, nil
}

// UpsertConversationMeta records the newest message of a room on a user's
// conversation list.
func (s *Store) UpsertConversationMeta(ctx context.Context, userID, roomID, lastRef string, lastAt time.Time) error {
	if err := s.session.Query(
		`INSERT INTO user_conversations (user_id, room_id, last_message_ref, last_message_at) VALUES (?, ?, ?, ?)`,
		userID, roomID, lastRef, lastAt,
	).WithContext(ctx).Exec(); err != nil {
		return errs.Persistence(err, "upsert conversation for %s/%s", userID, roomID)
	}
	return nil
}

// UpsertLastRead stores a user's durable read marker for a room.
func (s *Store) UpsertLastRead(ctx context.Context, roomID, userID, lastReadRef string, updatedAt time.Time) error {
	if err := s.session.Query(
		`INSERT INTO chat_last_read (room_id, user_id, last_read_ref, updated_at) VALUES (?, ?, ?, ?)`,
		roomID, userID, lastReadRef, updatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return errs.Persistence(err, "upsert last read for %s/%s", roomID, userID)
	}
	return nil
}

// LastReads returns the read markers of every participant in a room.
func (s *Store) LastReads(ctx context.Context, roomID string) ([]model.LastRead, error) {
	iter := s.session.Query(
		`SELECT user_id, last_read_ref, updated_at FROM chat_last_read WHERE room_id = ?`,
		roomID,
	).WithContext(ctx).Iter()

	var out []model.LastRead
	var lr model.LastRead
	for iter.Scan(&lr.UserID, &lr.LastReadRef, &lr.UpdatedAt) {
		lr.RoomID = roomID
		out = append(out, lr)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Persistence(err, "scan last reads for %s", roomID)
	}
	return out, nil
}
