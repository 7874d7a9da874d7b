package ack

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestEnqueueAndList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Now()
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, id := range []string{"c3", "c1", "c2"} {
		if err := m.Enqueue(ctx, "room1", "alice", id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	got, err := m.List(ctx, "room1", "alice", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"c3", "c1", "c2"} // enqueue order, oldest first
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.ClientID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, e.ClientID, want[i])
		}
	}
}

func TestEnqueueKeepsOriginalTime(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()
	m.now = func() time.Time { return base }
	if err := m.Enqueue(ctx, "room1", "alice", "c1"); err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return base.Add(time.Hour) }
	if err := m.Enqueue(ctx, "room1", "alice", "c1"); err != nil {
		t.Fatal(err)
	}

	got, err := m.List(ctx, "room1", "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicate enqueue must not add entries, got %d", len(got))
	}
	if !got[0].CreatedAt.Equal(base) {
		t.Fatalf("created_at changed on re-enqueue: %v", got[0].CreatedAt)
	}
}

func TestListScopedBySender(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Enqueue(ctx, "room1", "alice", "a1")
	m.Enqueue(ctx, "room1", "bob", "b1")
	m.Enqueue(ctx, "room2", "alice", "a2")

	got, err := m.List(ctx, "room1", "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ClientID != "a1" {
		t.Fatalf("unexpected entries: %v", got)
	}
}

func TestReminderFiltersByAge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	m.now = func() time.Time { return base.Add(-time.Hour) }
	m.Enqueue(ctx, "room1", "alice", "old")
	m.now = func() time.Time { return base }
	m.Enqueue(ctx, "room1", "alice", "fresh")

	got, err := m.Reminder(ctx, "room1", "alice", 10*time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ClientID != "old" {
		t.Fatalf("reminder should only return stale entries, got %v", got)
	}
}

func TestReminderLimitAppliesAfterFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	// Two stale entries hidden behind a pile of fresh ones: the age filter
	// must run first, so a small limit still reaches the stale rows.
	m.now = func() time.Time { return base.Add(-2 * time.Hour) }
	m.Enqueue(ctx, "room1", "alice", "stale-a")
	m.now = func() time.Time { return base.Add(-time.Hour) }
	m.Enqueue(ctx, "room1", "alice", "stale-b")
	m.now = func() time.Time { return base }
	for i := 0; i < 5; i++ {
		m.Enqueue(ctx, "room1", "alice", fmt.Sprintf("fresh-%d", i))
	}

	got, err := m.Reminder(ctx, "room1", "alice", 10*time.Minute, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ClientID != "stale-a" {
		t.Fatalf("limit must truncate after filtering, got %v", got)
	}
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Enqueue(ctx, "room1", "alice", "c1")
	m.Enqueue(ctx, "room1", "alice", "c2")

	res, err := m.Confirm(ctx, "room1", "alice", []string{"c1", "missing", "c2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 2 {
		t.Fatalf("removed = %d, want 2", res.Removed)
	}
	if len(res.NotFound) != 1 || res.NotFound[0] != "missing" {
		t.Fatalf("not_found = %v", res.NotFound)
	}

	// Confirming again is idempotent; everything is now not_found.
	res, err = m.Confirm(ctx, "room1", "alice", []string{"c1", "c2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 0 || len(res.NotFound) != 2 {
		t.Fatalf("second confirm: %+v", res)
	}
}

func TestLimitClamp(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{1, 1},
		{MaxLimit, MaxLimit},
		{MaxLimit + 1, MaxLimit},
	}
	for _, c := range cases {
		if got := ClampLimit(c.in); got != c.want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestListHonorsLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for i := 0; i < 10; i++ {
		m.Enqueue(ctx, "room1", "alice", fmt.Sprintf("c%02d", i))
	}
	got, err := m.List(ctx, "room1", "alice", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("limit not applied, got %d entries", len(got))
	}
	if got[0].ClientID != "c00" {
		t.Fatalf("limited page should keep the oldest entries, got %v", got)
	}
}
