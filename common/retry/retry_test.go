package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bdobrica/kotoba/common/retry"
)

func fastConfig(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_EventualSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(4), func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("database is locked")
	calls := 0
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() = %v, want %v", err, sentinel)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("constraint failed")
	calls := 0
	err := retry.Do(context.Background(), fastConfig(5), func() error {
		calls++
		return retry.Permanent(sentinel)
	})
	if err != sentinel {
		t.Fatalf("Do() = %v, want unwrapped sentinel", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry.Do(ctx, fastConfig(3), func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if retry.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
