package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
)

func TestParseEnvelope(t *testing.T) {
	raw := `["1","42","room:dm:1:2","chat:message",{"content":"hi","secure":false}]`
	f, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.JoinRef != "1" || f.MsgRef != "42" {
		t.Fatalf("unexpected refs: join=%q msg=%q", f.JoinRef, f.MsgRef)
	}
	if f.Topic != "room:dm:1:2" || f.Event != "chat:message" {
		t.Fatalf("unexpected topic/event: %q %q", f.Topic, f.Event)
	}
	if f.RoomID() != "dm:1:2" {
		t.Fatalf("unexpected room id: %q", f.RoomID())
	}
	if f.Payload["content"] != "hi" {
		t.Fatalf("payload not decoded: %v", f.Payload)
	}
}

func TestParseNullRefs(t *testing.T) {
	f, err := Parse([]byte(`[null,null,"global","heartbeat",{}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.JoinRef != "" || f.MsgRef != "" {
		t.Fatalf("null refs should decode empty, got %q %q", f.JoinRef, f.MsgRef)
	}
	if f.RoomID() != "global" {
		t.Fatalf("non-room topic should map to itself, got %q", f.RoomID())
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		`{"not":"an array"}`,
		`["only","four","elements","here"]`,
		`[1,2,3,4,5]`,
		`not json at all`,
	}
	for _, raw := range cases {
		if _, err := Parse([]byte(raw)); !errors.Is(err, errs.ErrProtocol) {
			t.Fatalf("want ErrProtocol for %q, got %v", raw, err)
		}
	}
}

func TestParseNonObjectPayload(t *testing.T) {
	f, err := Parse([]byte(`["1","2","room:x","custom:event","just a string"]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Payload != nil {
		t.Fatalf("non-object payload should not decode to a map")
	}
	if string(f.Raw) != `"just a string"` {
		t.Fatalf("raw payload not preserved: %s", f.Raw)
	}
}

func TestReplyShape(t *testing.T) {
	out := Reply("1", "42", "room:x", "ok", map[string]any{"content": "hi"})
	var parts []json.RawMessage
	if err := json.Unmarshal(out, &parts); err != nil {
		t.Fatalf("reply not an array: %v", err)
	}
	if len(parts) != 5 {
		t.Fatalf("reply has %d elements", len(parts))
	}
	var event string
	if err := json.Unmarshal(parts[3], &event); err != nil || event != EventReply {
		t.Fatalf("reply event = %q", event)
	}
	var body struct {
		Status   string         `json:"status"`
		Response map[string]any `json:"response"`
	}
	if err := json.Unmarshal(parts[4], &body); err != nil {
		t.Fatalf("reply body: %v", err)
	}
	if body.Status != "ok" || body.Response["content"] != "hi" {
		t.Fatalf("reply does not echo payload: %+v", body)
	}
}

func TestPushShape(t *testing.T) {
	out := Push("room:x", EventMessage, map[string]any{"content": "hi"})
	var parts []any
	if err := json.Unmarshal(out, &parts); err != nil {
		t.Fatalf("push not an array: %v", err)
	}
	if parts[0] != nil || parts[1] != nil {
		t.Fatalf("push refs must be null, got %v %v", parts[0], parts[1])
	}
	if parts[2] != "room:x" || parts[3] != EventMessage {
		t.Fatalf("unexpected push topic/event: %v %v", parts[2], parts[3])
	}
}

func TestLooksEncrypted(t *testing.T) {
	if LooksEncrypted("hi") {
		t.Fatal("short strings are not ciphertext")
	}
	if LooksEncrypted("hello there, this has spaces!") {
		t.Fatal("non-base64 characters are not ciphertext")
	}
	if !LooksEncrypted("aGVsbG8gd29ybGQhIQ==") {
		t.Fatal("base64 blob should pass the heuristic")
	}
}

func TestTopicHelpers(t *testing.T) {
	if RoomTopic("dm:1:2") != "room:dm:1:2" {
		t.Fatal("room topic")
	}
	if UserTopic("7") != "user:7:events" {
		t.Fatal("user topic")
	}
}
