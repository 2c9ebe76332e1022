package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/tarnlabs/tarn/pkg/types"
)

// flaky wraps Memory and fails each operation a fixed number of times
// before letting it through.
type flaky struct {
	*Memory
	mu        sync.Mutex
	failures  int
	attempts  int
	transient bool
}

func (f *flaky) trip() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		if f.transient {
			return fmt.Errorf("connection reset: %w", ErrUnavailable)
		}
		return fmt.Errorf("disk corrupt: %w", ErrFatal)
	}
	return nil
}

func (f *flaky) Get(ctx context.Context, repo string, bucket Bucket, id types.ID) ([]byte, error) {
	if err := f.trip(); err != nil {
		return nil, err
	}
	return f.Memory.Get(ctx, repo, bucket, id)
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestRetryingRecoversFromUnavailable(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Memory: NewMemory(), failures: 2, transient: true}
	if err := inner.Memory.Put(ctx, testRepo, BucketCommits, id(1), []byte("x")); err != nil {
		t.Fatal(err)
	}

	adapter := NewRetrying(inner, fastRetry(), clock.NewClock())
	got, err := adapter.Get(ctx, testRepo, BucketCommits, id(1))
	if err != nil {
		t.Fatalf("retrying get failed: %v", err)
	}
	if string(got) != "x" {
		t.Errorf("got %q", got)
	}
	if inner.attempts != 3 {
		t.Errorf("made %d attempts, want 3", inner.attempts)
	}
}

func TestRetryingGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Memory: NewMemory(), failures: 100, transient: true}

	adapter := NewRetrying(inner, fastRetry(), clock.NewClock())
	_, err := adapter.Get(ctx, testRepo, BucketCommits, id(1))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if inner.attempts != 4 {
		t.Errorf("made %d attempts, want 4", inner.attempts)
	}
}

func TestRetryingDoesNotRetryFatal(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Memory: NewMemory(), failures: 100, transient: false}

	adapter := NewRetrying(inner, fastRetry(), clock.NewClock())
	_, err := adapter.Get(ctx, testRepo, BucketCommits, id(1))
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("got %v, want ErrFatal", err)
	}
	if inner.attempts != 1 {
		t.Errorf("made %d attempts, want 1 (no retry on fatal)", inner.attempts)
	}
}

func TestRetryingPassesThroughSentinels(t *testing.T) {
	ctx := context.Background()
	adapter := NewRetrying(NewMemory(), fastRetry(), clock.NewClock())

	if _, err := adapter.Get(ctx, testRepo, BucketCommits, id(1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := adapter.Put(ctx, testRepo, BucketCommits, id(1), []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := adapter.Put(ctx, testRepo, BucketCommits, id(1), []byte("b")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("got %v, want ErrAlreadyExists", err)
	}
}

func TestRetryingHonorsContextDuringBackoff(t *testing.T) {
	inner := &flaky{Memory: NewMemory(), failures: 100, transient: true}
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	adapter := NewRetrying(inner, cfg, clock.NewClock())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := adapter.Get(ctx, testRepo, BucketCommits, id(1))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("got %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop ignored context cancellation")
	}
}
