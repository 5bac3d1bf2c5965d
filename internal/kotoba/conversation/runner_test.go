package conversation

import (
	"context"
	"testing"
	"time"
)

func TestCleanupRunner_RunOnce(t *testing.T) {
	m, clk, _ := newTestManager(t)
	m.Create("u1", nil)
	clk.Advance(3 * time.Hour)

	r := NewCleanupRunner(m, time.Hour, nil)
	if n := r.RunOnce(context.Background()); n != 1 {
		t.Errorf("RunOnce = %d, want 1", n)
	}
}

func TestCleanupRunner_StopsOnStop(t *testing.T) {
	m, _, _ := newTestManager(t)
	r := NewCleanupRunner(m, time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	r.Stop()
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestCleanupRunner_StopsOnCancel(t *testing.T) {
	m, _, _ := newTestManager(t)
	r := NewCleanupRunner(m, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
