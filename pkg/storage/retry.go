package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/tarnlabs/tarn/pkg/log"
	"github.com/tarnlabs/tarn/pkg/metrics"
	"github.com/tarnlabs/tarn/pkg/types"
)

// RetryConfig bounds the retry loop of the Retrying decorator.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the retry bounds used when none are
// configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 25 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// Retrying wraps an adapter and retries calls that fail with
// ErrUnavailable, using capped exponential backoff with jitter. Every
// other failure passes through unchanged. Intended for network-backed
// adapters; wrapping Memory or Bolt is harmless.
type Retrying struct {
	inner  Adapter
	cfg    RetryConfig
	clock  clock.Clock
	logger zerolog.Logger
}

// NewRetrying decorates an adapter with retry behavior.
func NewRetrying(inner Adapter, cfg RetryConfig, clk clock.Clock) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &Retrying{
		inner:  inner,
		cfg:    cfg,
		clock:  clk,
		logger: log.WithComponent("storage-retry"),
	}
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	start := r.clock.Now()
	defer func() {
		metrics.ObserveStorageOp(op, r.clock.Since(start).Seconds())
	}()

	backoff := r.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrUnavailable) || attempt >= r.cfg.MaxAttempts {
			return err
		}

		delay := backoff
		if delay > r.cfg.MaxBackoff {
			delay = r.cfg.MaxBackoff
		}
		if half := int64(delay) / 2; half > 0 {
			delay += time.Duration(rand.Int64N(half))
		}
		backoff *= 2

		r.logger.Debug().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("backend unavailable, retrying")
		metrics.StorageRetries.Inc()

		timer := r.clock.NewTimer(delay)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry of %s interrupted: %w", op, ctx.Err())
		}
	}
}

func (r *Retrying) Get(ctx context.Context, repo string, bucket Bucket, id types.ID) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "get", func() error {
		var err error
		out, err = r.inner.Get(ctx, repo, bucket, id)
		return err
	})
	return out, err
}

func (r *Retrying) GetMany(ctx context.Context, repo string, bucket Bucket, ids []types.ID) ([][]byte, error) {
	var out [][]byte
	err := r.do(ctx, "get_many", func() error {
		var err error
		out, err = r.inner.GetMany(ctx, repo, bucket, ids)
		return err
	})
	return out, err
}

func (r *Retrying) Put(ctx context.Context, repo string, bucket Bucket, id types.ID, data []byte) error {
	return r.do(ctx, "put", func() error {
		return r.inner.Put(ctx, repo, bucket, id, data)
	})
}

func (r *Retrying) Delete(ctx context.Context, repo string, bucket Bucket, id types.ID) error {
	return r.do(ctx, "delete", func() error {
		return r.inner.Delete(ctx, repo, bucket, id)
	})
}

func (r *Retrying) CompareAndSwap(ctx context.Context, repo string, bucket Bucket, id types.ID, expected, updated []byte) error {
	return r.do(ctx, "cas", func() error {
		return r.inner.CompareAndSwap(ctx, repo, bucket, id, expected, updated)
	})
}

func (r *Retrying) Scan(ctx context.Context, repo string, bucket Bucket, prefix []byte, after []byte, limit int) ([]ScanEntry, error) {
	var out []ScanEntry
	err := r.do(ctx, "scan", func() error {
		var err error
		out, err = r.inner.Scan(ctx, repo, bucket, prefix, after, limit)
		return err
	})
	return out, err
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}
