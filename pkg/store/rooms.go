package store

import (
	"context"
	"time"

	"github.com/gocql/gocql"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
)

// EnsureRoom creates the room row and registers the given members.
func (s *Store) EnsureRoom(ctx context.Context, room model.Room, members []string) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	if err := s.session.Query(
		`INSERT INTO chat_rooms (room_id, name, post_id, created_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		room.RoomID, room.Name, room.PostID, room.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return errs.Persistence(err, "ensure room %s", room.RoomID)
	}
	for _, userID := range members {
		if err := s.AddParticipant(ctx, room.RoomID, userID); err != nil {
			return err
		}
	}
	return nil
}

// Room loads one room row.
func (s *Store) Room(ctx context.Context, roomID string) (model.Room, error) {
	var room model.Room
	if err := s.session.Query(
		`SELECT room_id, name, post_id, created_at FROM chat_rooms WHERE room_id = ?`,
		roomID,
	).WithContext(ctx).Scan(&room.RoomID, &room.Name, &room.PostID, &room.CreatedAt); err != nil {
		if err == gocql.ErrNotFound {
			return room, errs.NotFound("room %s", roomID)
		}
		return room, errs.Persistence(err, "load room %s", roomID)
	}
	return room, nil
}

func (s *Store) AddParticipant(ctx context.Context, roomID, userID string) error {
	if err := s.session.Query(
		`INSERT INTO chat_room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
		roomID, userID, time.Now(),
	).WithContext(ctx).Exec(); err != nil {
		return errs.Persistence(err, "add participant %s to %s", userID, roomID)
	}
	return nil
}

// Participants lists the user ids registered in a room.
func (s *Store) Participants(ctx context.Context, roomID string) ([]string, error) {
	iter := s.session.Query(
		`SELECT user_id FROM chat_room_members WHERE room_id = ?`,
		roomID,
	).WithContext(ctx).Iter()

	var out []string
	var userID string
	for iter.Scan(&userID) {
		out = append(out, userID)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Persistence(err, "scan participants for %s", roomID)
	}
	return out, nil
}
