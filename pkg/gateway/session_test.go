package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/auth"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/broker"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/crypto"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/protocol"
)

type fakeRouter struct {
	mu           sync.Mutex
	registered   []string
	subscribed   []string
	unsubs       []string
	dispatched   []*protocol.Frame
	unregistered []string
}

func (r *fakeRouter) Register(s broker.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, s.ID())
}

func (r *fakeRouter) Unregister(s broker.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, s.ID())
}

func (r *fakeRouter) Subscribe(_ broker.Session, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, topic)
}

func (r *fakeRouter) Unsubscribe(_ broker.Session, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubs = append(r.unsubs, topic)
}

func (r *fakeRouter) Dispatch(_ broker.Session, f *protocol.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, f)
}

type fakePresence struct {
	mu          sync.Mutex
	connects    []string
	heartbeats  []string
	disconnects []string
}

func (p *fakePresence) Connect(connID, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects = append(p.connects, connID)
}

func (p *fakePresence) Heartbeat(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeats = append(p.heartbeats, connID)
}

func (p *fakePresence) Disconnect(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects = append(p.disconnects, connID)
}

func testFrame(t *testing.T, topic, event string, payload any) *protocol.Frame {
	t.Helper()
	raw, err := json.Marshal([]any{"1", "2", topic, event, payload})
	if err != nil {
		t.Fatal(err)
	}
	f, err := protocol.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func sentFrame(t *testing.T, s *Session) []json.RawMessage {
	t.Helper()
	select {
	case raw := <-s.send:
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			t.Fatalf("sent frame is not an envelope: %v", err)
		}
		return parts
	default:
		t.Fatal("no frame queued")
		return nil
	}
}

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestHeartbeat(t *testing.T) {
	router := &fakeRouter{}
	pres := &fakePresence{}
	s := newSession("c1", "u1", nil, nil, router, pres, zap.NewNop())

	s.handleFrame(testFrame(t, "global", protocol.EventHeartbeat, map[string]any{}))

	pres.mu.Lock()
	defer pres.mu.Unlock()
	if len(pres.heartbeats) != 1 || pres.heartbeats[0] != "c1" {
		t.Fatalf("heartbeat not forwarded: %v", pres.heartbeats)
	}
	parts := sentFrame(t, s)
	var event string
	json.Unmarshal(parts[3], &event)
	if event != protocol.EventReply {
		t.Fatalf("heartbeat must be acknowledged, got %s", event)
	}
}

func TestJoinLeave(t *testing.T) {
	router := &fakeRouter{}
	s := newSession("c1", "u1", nil, nil, router, &fakePresence{}, zap.NewNop())

	s.handleFrame(testFrame(t, "room:dm:u1:u2", protocol.EventJoin, map[string]any{}))
	s.handleFrame(testFrame(t, "room:dm:u1:u2", protocol.EventLeave, map[string]any{}))

	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.subscribed) != 1 || router.subscribed[0] != "room:dm:u1:u2" {
		t.Fatalf("join not routed: %v", router.subscribed)
	}
	if len(router.unsubs) != 1 || router.unsubs[0] != "room:dm:u1:u2" {
		t.Fatalf("leave not routed: %v", router.unsubs)
	}
}

func TestJoinAuthorization(t *testing.T) {
	router := &fakeRouter{}
	s := newSession("c1", "u1", nil, nil, router, &fakePresence{}, zap.NewNop())

	// A dm between two other users and another user's event stream are off
	// limits.
	for _, topic := range []string{"room:dm:u2:u3", "user:u2:events"} {
		s.handleFrame(testFrame(t, topic, protocol.EventJoin, map[string]any{}))
		parts := sentFrame(t, s)
		var body struct {
			Status string `json:"status"`
		}
		json.Unmarshal(parts[4], &body)
		if body.Status != "error" {
			t.Fatalf("join of %s must be refused, reply status %q", topic, body.Status)
		}
	}
	router.mu.Lock()
	if len(router.subscribed) != 0 {
		t.Fatalf("refused joins must not reach the broker: %v", router.subscribed)
	}
	router.mu.Unlock()

	// Own dm, own event stream, the global channel and open rooms are fine.
	for _, topic := range []string{"room:dm:u1:u2", "user:u1:events", protocol.TopicGlobal, "room:general"} {
		s.handleFrame(testFrame(t, topic, protocol.EventJoin, map[string]any{}))
	}
	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.subscribed) != 4 {
		t.Fatalf("allowed joins not routed: %v", router.subscribed)
	}
}

func TestMessageDecryptedBeforeDispatch(t *testing.T) {
	key := newKey(t)
	router := &fakeRouter{}
	s := newSession("c1", "u1", key, nil, router, &fakePresence{}, zap.NewNop())

	sealed, err := crypto.Encrypt(key, "secret text")
	if err != nil {
		t.Fatal(err)
	}
	s.handleFrame(testFrame(t, "room:dm:1:2", protocol.EventMessage,
		map[string]any{"clientId": "ref-1", "content": sealed, "secure": true}))

	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.dispatched) != 1 {
		t.Fatal("message not dispatched")
	}
	if router.dispatched[0].Payload["content"] != "secret text" {
		t.Fatalf("content not decrypted: %v", router.dispatched[0].Payload["content"])
	}

	// The transport reply echoes the decrypted payload.
	parts := sentFrame(t, s)
	var body struct {
		Response map[string]any `json:"response"`
	}
	json.Unmarshal(parts[4], &body)
	if body.Response["content"] != "secret text" {
		t.Fatalf("reply should echo decrypted content: %v", body.Response)
	}
}

func TestUndecryptableContentPassesThrough(t *testing.T) {
	router := &fakeRouter{}
	s := newSession("c1", "u1", newKey(t), nil, router, &fakePresence{}, zap.NewNop())

	sealed, err := crypto.Encrypt(newKey(t), "other key")
	if err != nil {
		t.Fatal(err)
	}
	s.handleFrame(testFrame(t, "room:dm:1:2", protocol.EventMessage,
		map[string]any{"clientId": "ref-1", "content": sealed, "secure": true}))

	router.mu.Lock()
	defer router.mu.Unlock()
	if router.dispatched[0].Payload["content"] != sealed {
		t.Fatal("undecryptable content must pass through untouched")
	}
}

func TestPlainMessageUntouched(t *testing.T) {
	router := &fakeRouter{}
	s := newSession("c1", "u1", newKey(t), nil, router, &fakePresence{}, zap.NewNop())

	s.handleFrame(testFrame(t, "room:dm:1:2", protocol.EventMessage,
		map[string]any{"clientId": "ref-1", "content": "plain", "secure": false}))

	router.mu.Lock()
	defer router.mu.Unlock()
	if router.dispatched[0].Payload["content"] != "plain" {
		t.Fatal("plain content must not be altered")
	}
}

func TestReadFrameDispatchedAndAcknowledged(t *testing.T) {
	router := &fakeRouter{}
	s := newSession("c1", "u1", nil, nil, router, &fakePresence{}, zap.NewNop())

	s.handleFrame(testFrame(t, "room:dm:1:2", protocol.EventRead, map[string]any{"clientId": "m-9"}))

	router.mu.Lock()
	if len(router.dispatched) != 1 || router.dispatched[0].Event != protocol.EventRead {
		t.Fatalf("read frame not dispatched: %v", router.dispatched)
	}
	router.mu.Unlock()

	parts := sentFrame(t, s)
	var event string
	json.Unmarshal(parts[3], &event)
	if event != protocol.EventReply {
		t.Fatalf("read frame must be acknowledged, got %s", event)
	}
	var body struct {
		Response map[string]any `json:"response"`
	}
	json.Unmarshal(parts[4], &body)
	if body.Response["clientId"] != "m-9" {
		t.Fatalf("reply should echo the payload: %v", body.Response)
	}
}

func TestEncryptOutbound(t *testing.T) {
	key := newKey(t)
	s := newSession("c1", "u1", key, nil, &fakeRouter{}, &fakePresence{}, zap.NewNop())

	frame := protocol.Push("room:dm:1:2", protocol.EventMessage,
		map[string]any{"clientId": "ref-1", "content": "top secret", "secure": true})
	out := s.encryptOutbound(frame)

	var parts []json.RawMessage
	if err := json.Unmarshal(out, &parts); err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	json.Unmarshal(parts[4], &payload)
	sealed, _ := payload["content"].(string)
	if sealed == "top secret" {
		t.Fatal("secure content must not leave in the clear")
	}
	plain, err := crypto.Decrypt(key, sealed)
	if err != nil || plain != "top secret" {
		t.Fatalf("client cannot recover the content: %v %q", err, plain)
	}
}

func TestEncryptOutboundSkipsPlainFrames(t *testing.T) {
	s := newSession("c1", "u1", newKey(t), nil, &fakeRouter{}, &fakePresence{}, zap.NewNop())

	frame := protocol.Push("room:dm:1:2", protocol.EventMessage,
		map[string]any{"clientId": "ref-1", "content": "hello", "secure": false})
	if string(s.encryptOutbound(frame)) != string(frame) {
		t.Fatal("plain frames must go out unchanged")
	}

	typing := protocol.Push("room:dm:1:2", protocol.EventTypingStart, map[string]any{"userId": "u1"})
	if string(s.encryptOutbound(typing)) != string(typing) {
		t.Fatal("non-message frames must go out unchanged")
	}
}

func TestSendDropsWhenFull(t *testing.T) {
	s := newSession("c1", "u1", nil, nil, &fakeRouter{}, &fakePresence{}, zap.NewNop())
	for i := 0; i < cap(s.send); i++ {
		if !s.Send([]byte("x")) {
			t.Fatal("send failed before the buffer filled")
		}
	}
	if s.Send([]byte("overflow")) {
		t.Fatal("send must report a full buffer")
	}
}

func TestHandleWSAuth(t *testing.T) {
	authMgr := auth.NewManager("test-secret")
	g := New(&fakeRouter{}, &fakePresence{}, authMgr, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(g.HandleWS))
	defer srv.Close()

	// No token.
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", resp.StatusCode)
	}

	// Bad token.
	resp, err = http.Get(srv.URL + "?token=garbage")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", resp.StatusCode)
	}
}

func TestHandleWSAutoSubscribes(t *testing.T) {
	authMgr := auth.NewManager("test-secret")
	router := &fakeRouter{}
	g := New(router, &fakePresence{}, authMgr, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(g.HandleWS))
	defer srv.Close()

	token, err := authMgr.GenerateToken("u1", "")
	if err != nil {
		t.Fatal(err)
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Signals and presence broadcasts must reach clients that never send an
	// explicit join for their own stream.
	want := map[string]bool{protocol.UserTopic("u1"): true, protocol.TopicGlobal: true}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		router.mu.Lock()
		got := make(map[string]bool, len(router.subscribed))
		for _, topic := range router.subscribed {
			got[topic] = true
		}
		router.mu.Unlock()
		if got[protocol.UserTopic("u1")] && got[protocol.TopicGlobal] && len(got) == len(want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	router.mu.Lock()
	defer router.mu.Unlock()
	t.Fatalf("session never auto-subscribed, got %v", router.subscribed)
}

func TestHandleWSSessionLifecycle(t *testing.T) {
	authMgr := auth.NewManager("test-secret")
	router := &fakeRouter{}
	pres := &fakePresence{}
	g := New(router, pres, authMgr, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(g.HandleWS))
	defer srv.Close()

	key := newKey(t)
	token, err := authMgr.GenerateToken("u1", hex.EncodeToString(key))
	if err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	raw, _ := json.Marshal([]any{"1", "1", "global", protocol.EventHeartbeat, map[string]any{}})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(reply, &parts); err != nil || len(parts) != 5 {
		t.Fatalf("reply is not an envelope: %s", reply)
	}
	var event string
	json.Unmarshal(parts[3], &event)
	if event != protocol.EventReply {
		t.Fatalf("want %s, got %s", protocol.EventReply, event)
	}

	pres.mu.Lock()
	if len(pres.connects) != 1 || len(pres.heartbeats) != 1 {
		t.Fatalf("presence calls: connects=%v heartbeats=%v", pres.connects, pres.heartbeats)
	}
	pres.mu.Unlock()

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pres.mu.Lock()
		done := len(pres.disconnects) == 1
		pres.mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("disconnect never reached presence")
}
