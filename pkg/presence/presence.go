// Package presence tracks which users have live gateway connections. The
// in-memory view is authoritative for this node; transitions are mirrored
// best-effort to Redis so other processes can answer presence queries.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventKind int

const (
	// Online fires on a user's first heartbeating connection.
	Online EventKind = iota
	// Offline fires when a user's last connection disconnects cleanly.
	Offline
	// Stopped fires when a user's last connection is expired by the sweep.
	Stopped
)

type Event struct {
	UserID string
	Kind   EventKind
}

// Mirror publishes presence transitions to shared storage for other
// processes. Failures are logged, never propagated.
type Mirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

type conn struct {
	userID   string
	lastSeen time.Time
	alive    bool
}

type Manager struct {
	mu    sync.RWMutex
	conns map[string]*conn
	users map[string]map[string]struct{} // userID -> alive conn ids

	ttl    time.Duration
	sweep  time.Duration
	mirror Mirror
	log    *zap.Logger
	events chan Event

	now func() time.Time
}

func NewManager(ttl, sweep time.Duration, mirror Mirror, log *zap.Logger) *Manager {
	return &Manager{
		conns:  make(map[string]*conn),
		users:  make(map[string]map[string]struct{}),
		ttl:    ttl,
		sweep:  sweep,
		mirror: mirror,
		log:    log,
		events: make(chan Event, 256),
		now:    time.Now,
	}
}

// Events delivers presence transitions to the broker. The channel is
// buffered; a full buffer drops the event rather than stall connections.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect registers a connection in the pending state. The user does not
// count as online until the connection's first heartbeat.
func (m *Manager) Connect(connID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[connID] = &conn{userID: userID, lastSeen: m.now()}
}

// Heartbeat refreshes a connection's deadline. The first heartbeat promotes
// the connection to alive, which may bring the user online.
func (m *Manager) Heartbeat(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	c.lastSeen = m.now()
	if c.alive {
		m.mu.Unlock()
		return
	}
	c.alive = true
	set, ok := m.users[c.userID]
	if !ok {
		set = make(map[string]struct{})
		m.users[c.userID] = set
	}
	set[connID] = struct{}{}
	first := len(set) == 1
	userID := c.userID
	m.mu.Unlock()

	if first {
		m.transition(userID, Online)
	}
}

// Disconnect drops a connection. If it was the user's last alive connection
// the user goes offline.
func (m *Manager) Disconnect(connID string) {
	m.remove(connID, Offline)
}

func (m *Manager) remove(connID string, kind EventKind) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connID)
	last := false
	if c.alive {
		set := m.users[c.userID]
		delete(set, connID)
		if len(set) == 0 {
			delete(m.users, c.userID)
			last = true
		}
	}
	userID := c.userID
	m.mu.Unlock()

	if last {
		m.transition(userID, kind)
	}
}

func (m *Manager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID]) > 0
}

func (m *Manager) OnlineUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	return out
}

// Run sweeps expired connections until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	deadline := m.now().Add(-m.ttl)

	m.mu.RLock()
	var expired []string
	for id, c := range m.conns {
		if c.lastSeen.Before(deadline) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.log.Debug("sweeping stale connection", zap.String("conn", id))
		m.remove(id, Stopped)
	}
}

func (m *Manager) transition(userID string, kind EventKind) {
	select {
	case m.events <- Event{UserID: userID, Kind: kind}:
	default:
		m.log.Warn("presence event buffer full, dropping", zap.String("user", userID))
	}

	if m.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if kind == Online {
		err = m.mirror.SetOnline(ctx, userID)
	} else {
		err = m.mirror.SetOffline(ctx, userID)
	}
	if err != nil {
		m.log.Warn("presence mirror update failed", zap.String("user", userID), zap.Error(err))
	}
}
