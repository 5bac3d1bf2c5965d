package archive

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/kotoba/common/retry"
	"github.com/bdobrica/kotoba/common/trace"
	"github.com/bdobrica/kotoba/internal/kotoba/store"
)

type recordingSink struct {
	mu    sync.Mutex
	got   []Summary
	fails int
}

func (r *recordingSink) Archive(_ context.Context, s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("transient")
	}
	r.got = append(r.got, s)
	return nil
}

func sample() Summary {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return Summary{
		SessionID:          "s1",
		UserID:             "u1",
		DurationSeconds:    125,
		TurnCount:          3,
		TopicsDiscussed:    []string{"project_creation"},
		EntitiesMentioned:  []string{"project_name"},
		StartedAt:          start,
		EndedAt:            start.Add(125 * time.Second),
		Reason:             ReasonEnded,
		IntentDistribution: map[string]int{"create_project": 3},
	}
}

func TestMulti_CallsAllAndJoinsErrors(t *testing.T) {
	a := &recordingSink{fails: 1}
	b := &recordingSink{}
	err := Multi{a, nil, b}.Archive(context.Background(), sample())
	if err == nil {
		t.Fatal("expected error from first sink")
	}
	if len(b.got) != 1 {
		t.Errorf("second sink not called after first failed")
	}
}

func TestRetrying_RecoversFromTransient(t *testing.T) {
	inner := &recordingSink{fails: 2}
	r := NewRetrying(inner, retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	if err := r.Archive(context.Background(), sample()); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(inner.got) != 1 {
		t.Errorf("archived %d times, want 1", len(inner.got))
	}
}

func TestRetrying_GivesUp(t *testing.T) {
	inner := &recordingSink{fails: 5}
	r := NewRetrying(inner, retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	if err := r.Archive(context.Background(), sample()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeSender struct {
	room, msg string
	err       error
}

func (f *fakeSender) SendNotice(_ context.Context, room, msg string) error {
	f.room, f.msg = room, msg
	return f.err
}

func TestNotifier_FormatsAndSends(t *testing.T) {
	fs := &fakeSender{}
	n := NewNotifier(fs, "!archive:example.org", nil)
	ctx := trace.WithID(context.Background(), "t_abc")
	if err := n.Archive(ctx, sample()); err != nil {
		t.Fatal(err)
	}
	if fs.room != "!archive:example.org" {
		t.Errorf("room = %q", fs.room)
	}
	for _, want := range []string{"s1", "u1", "3 turns", "2m5s", "project_creation", "trace: t_abc"} {
		if !strings.Contains(fs.msg, want) {
			t.Errorf("notice %q missing %q", fs.msg, want)
		}
	}
}

func TestNotifier_SwallowsSendErrors(t *testing.T) {
	n := NewNotifier(&fakeSender{err: errors.New("offline")}, "!r:x", nil)
	if err := n.Archive(context.Background(), sample()); err != nil {
		t.Fatalf("send error leaked: %v", err)
	}
}

func TestNotifier_DisabledWithoutRoom(t *testing.T) {
	fs := &fakeSender{}
	_ = NewNotifier(fs, "", nil).Archive(context.Background(), sample())
	if fs.msg != "" {
		t.Error("sent a notice with no room configured")
	}
}

func newTestDB(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kotoba-archive-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	db, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_RoundTrip(t *testing.T) {
	a := NewSQLite(newTestDB(t))
	ctx := context.Background()
	in := sample()
	if err := a.Archive(ctx, in); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := a.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TurnCount != 3 || got.Reason != ReasonEnded || got.IntentDistribution["create_project"] != 3 {
		t.Errorf("got %+v", got)
	}
	if !got.EndedAt.Equal(in.EndedAt) {
		t.Errorf("EndedAt = %v", got.EndedAt)
	}

	if _, err := a.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}

	list, err := a.List(ctx, "u1", 10)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
}
