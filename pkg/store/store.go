// Package store is the ScyllaDB persistence layer: message history, the
// client-ref dedupe index, unread counters, conversation summaries, read
// markers and room membership.
package store

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
)

type Store struct {
	session *gocql.Session
	log     *zap.Logger
}

func New(session *gocql.Session, log *zap.Logger) *Store {
	return &Store{session: session, log: log}
}

// Session exposes the underlying connection for collaborators that manage
// their own tables, like the pending-ack store.
func (s *Store) Session() *gocql.Session {
	return s.session
}

// NewSession connects to the cluster with the settings every process shares.
func NewSession(hosts []string, keyspace string) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errs.Persistence(err, "connect to scylla")
	}
	return session, nil
}

// EnsureKeyspace creates the keyspace if needed, using a keyspace-less
// session.
func EnsureKeyspace(hosts []string, keyspace string) error {
	cluster := gocql.NewCluster(hosts...)
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return errs.Persistence(err, "connect for keyspace setup")
	}
	defer session.Close()

	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
		keyspace,
	)
	if err := session.Query(stmt).Exec(); err != nil {
		return errs.Persistence(err, "create keyspace %s", keyspace)
	}
	return nil
}

var schema = []string{
	// History partition, newest first so page reads need no reordering.
	`CREATE TABLE IF NOT EXISTS chat_messages (
		room_id text,
		id bigint,
		client_ref text,
		sender_id text,
		content text,
		status text,
		created_at timestamp,
		PRIMARY KEY ((room_id), id)
	) WITH CLUSTERING ORDER BY (id DESC)`,

	// Dedupe index: one snowflake id per (room, client ref), claimed with a
	// lightweight transaction.
	`CREATE TABLE IF NOT EXISTS chat_message_refs (
		room_id text,
		client_ref text,
		id bigint,
		PRIMARY KEY ((room_id), client_ref)
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		room_id text,
		unread_count counter,
		PRIMARY KEY ((user_id), room_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		room_id text,
		last_message_ref text,
		last_message_at timestamp,
		PRIMARY KEY ((user_id), room_id)
	)`,

	`CREATE TABLE IF NOT EXISTS chat_last_read (
		room_id text,
		user_id text,
		last_read_ref text,
		updated_at timestamp,
		PRIMARY KEY ((room_id), user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS pending_acks (
		room_id text,
		sender_id text,
		client_id text,
		created_at timestamp,
		PRIMARY KEY ((room_id, sender_id), client_id)
	)`,

	`CREATE TABLE IF NOT EXISTS chat_rooms (
		room_id text PRIMARY KEY,
		name text,
		post_id bigint,
		created_at timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS chat_room_members (
		room_id text,
		user_id text,
		joined_at timestamp,
		PRIMARY KEY ((room_id), user_id)
	)`,
}

// EnsureSchema creates all tables. Safe to run on every startup.
func (s *Store) EnsureSchema() error {
	for _, stmt := range schema {
		if err := s.session.Query(stmt).Exec(); err != nil {
			return errs.Persistence(err, "ensure schema")
		}
	}
	s.log.Info("scylla schema ready")
	return nil
}
