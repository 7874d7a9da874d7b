package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
)

// SaveMessage persists one message. The (room, client_ref) pair is claimed
// with a lightweight transaction first, so replays of the same client ref
// collapse onto the id of the first write. Returns the id the message ended
// up under and whether this call was the first write.
func (s *Store) SaveMessage(ctx context.Context, m model.Message) (int64, bool, error) {
	prev := map[string]interface{}{}
	applied, err := s.session.Query(
		`INSERT INTO chat_message_refs (room_id, client_ref, id) VALUES (?, ?, ?) IF NOT EXISTS`,
		m.RoomID, m.ClientRef, m.ID,
	).WithContext(ctx).MapScanCAS(prev)
	if err != nil {
		return 0, false, errs.Persistence(err, "claim message ref %s", m.ClientRef)
	}
	if !applied {
		existing, ok := prev["id"].(int64)
		if !ok {
			return 0, false, errors.Wrapf(errs.ErrPersistence, "ref row for %s has no id", m.ClientRef)
		}
		// Duplicate delivery: overwrite the row under its original id so a
		// replay with newer content still collapses to one message.
		m.ID = existing
	}

	if err := s.session.Query(
		`INSERT INTO chat_messages (room_id, id, client_ref, sender_id, content, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.ID, m.ClientRef, m.SenderID, m.Content, m.Status, m.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return 0, false, errs.Persistence(err, "insert message %s", m.ClientRef)
	}
	return m.ID, applied, nil
}

// MessagesBefore returns up to limit messages with id < beforeID, newest
// first.
func (s *Store) MessagesBefore(ctx context.Context, roomID string, beforeID int64, limit int) ([]model.Message, error) {
	return s.scanMessages(ctx,
		`SELECT id, client_ref, sender_id, content, status, created_at FROM chat_messages WHERE room_id = ? AND id < ? LIMIT ?`,
		roomID, beforeID, limit,
	)
}

// MessagesAfter returns up to limit messages with id > afterID, newest
// first.
func (s *Store) MessagesAfter(ctx context.Context, roomID string, afterID int64, limit int) ([]model.Message, error) {
	return s.scanMessages(ctx,
		`SELECT id, client_ref, sender_id, content, status, created_at FROM chat_messages WHERE room_id = ? AND id > ? LIMIT ?`,
		roomID, afterID, limit,
	)
}

func (s *Store) scanMessages(ctx context.Context, stmt string, roomID string, boundary int64, limit int) ([]model.Message, error) {
	iter := s.session.Query(stmt, roomID, boundary, limit).WithContext(ctx).Iter()

	var out []model.Message
	var m model.Message
	for iter.Scan(&m.ID, &m.ClientRef, &m.SenderID, &m.Content, &m.Status, &m.CreatedAt) {
		m.RoomID = roomID
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Persistence(err, "scan messages for %s", roomID)
	}
	return out, nil
}
