package ack

import (
	"context"
	"sort"
	"sync"
	"time"
)

type senderKey struct {
	roomID   string
	senderID string
}

// Memory is the in-process Store used by tests and single-node setups.
type Memory struct {
	mu      sync.Mutex
	entries map[senderKey]map[string]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[senderKey]map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, roomID, senderID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := senderKey{roomID, senderID}
	set, ok := m.entries[key]
	if !ok {
		set = make(map[string]time.Time)
		m.entries[key] = set
	}
	if _, exists := set[clientID]; !exists {
		set[clientID] = m.now()
	}
	return nil
}

func (m *Memory) List(ctx context.Context, roomID, senderID string, limit int) ([]Entry, error) {
	return m.Reminder(ctx, roomID, senderID, 0, limit)
}

func (m *Memory) Reminder(_ context.Context, roomID, senderID string, olderThan time.Duration, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	cutoff := m.now().Add(-olderThan)

	m.mu.Lock()
	set := m.entries[senderKey{roomID, senderID}]
	out := make([]Entry, 0, len(set))
	for id, at := range set {
		if olderThan > 0 && at.After(cutoff) {
			continue
		}
		out = append(out, Entry{ClientID: id, CreatedAt: at})
	}
	m.mu.Unlock()

	sortOldestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Confirm(_ context.Context, roomID, senderID string, clientIDs []string) (ConfirmResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.entries[senderKey{roomID, senderID}]

	var res ConfirmResult
	for _, id := range clientIDs {
		if _, ok := set[id]; ok {
			delete(set, id)
			res.Removed++
		} else {
			res.NotFound = append(res.NotFound, id)
		}
	}
	return res, nil
}

func sortOldestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ClientID < entries[j].ClientID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
