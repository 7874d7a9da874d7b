package store

import (
	"strings"
	"testing"
)

func TestSchemaDeclaresRoomColumns(t *testing.T) {
	var rooms string
	for _, stmt := range schema {
		if strings.Contains(stmt, "chat_rooms") {
			rooms = stmt
			break
		}
	}
	if rooms == "" {
		t.Fatal("chat_rooms table missing from schema")
	}
	for _, col := range []string{"name text", "post_id bigint", "created_at timestamp"} {
		if !strings.Contains(rooms, col) {
			t.Fatalf("chat_rooms schema missing column %q", col)
		}
	}
}

func TestSchemaCoversAllTables(t *testing.T) {
	tables := []string{
		"chat_messages", "chat_message_refs", "conversation_counters",
		"user_conversations", "chat_last_read", "pending_acks",
		"chat_rooms", "chat_room_members",
	}
	for _, table := range tables {
		found := false
		for _, stmt := range schema {
			if strings.Contains(stmt, "EXISTS "+table+" ") {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("no CREATE TABLE statement for %s", table)
		}
	}
}
