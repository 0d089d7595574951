package engagement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/telemetry"
)

// ErrBatcherStopped is returned by Add after Stop.
var ErrBatcherStopped = errors.New("activity batcher is stopped")

// BatchConfig controls when buffered activity is flushed.
type BatchConfig struct {
	FlushInterval   time.Duration
	MaxBatchSize    int
	MaxRetries      uint
	InitialInterval time.Duration // first retry delay
}

// DefaultBatchConfig flushes every 5s or at 50 entries.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		FlushInterval:   5 * time.Second,
		MaxBatchSize:    50,
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
	}
}

// ActivityBatcher buffers activity and uploads it in batches based on a
// timer and a size threshold. Uploads run outside the lock with retry; a batch
// that still fails is put back at the head of the buffer.
type ActivityBatcher struct {
	mu sync.Mutex

	cfg BatchConfig

	buffer     []models.Activity
	flushTimer *time.Timer
	stopCh     chan struct{}
	inflight   sync.WaitGroup

	// cancels uploads still retrying when Stop gives up on them
	ctx    context.Context
	cancel context.CancelFunc

	onFlush func(ctx context.Context, batch []models.Activity) error
}

func NewActivityBatcher(cfg BatchConfig, onFlush func(ctx context.Context, batch []models.Activity) error) *ActivityBatcher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultBatchConfig().FlushInterval
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultBatchConfig().MaxBatchSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ActivityBatcher{
		cfg:     cfg,
		buffer:  make([]models.Activity, 0, cfg.MaxBatchSize),
		stopCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		onFlush: onFlush,
	}
}

// Add buffers a single activity entry. Reaching MaxBatchSize triggers an
// asynchronous flush.
func (b *ActivityBatcher) Add(a models.Activity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.stopCh:
		return ErrBatcherStopped
	default:
	}

	if len(b.buffer) == 0 {
		b.startFlushTimerLocked()
	}
	b.buffer = append(b.buffer, a)

	if len(b.buffer) >= b.cfg.MaxBatchSize {
		batch := b.takeLocked()
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.send(b.ctx, batch, "max_batch_size")
		}()
	}

	return nil
}

// Len returns the number of buffered entries.
func (b *ActivityBatcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Flush uploads any buffered entries now.
func (b *ActivityBatcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	return b.send(ctx, batch, "manual_flush")
}

// Stop waits for in-flight uploads, then makes a final flush attempt. Entries
// that still cannot be uploaded are dropped and reported in the error.
func (b *ActivityBatcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	select {
	case <-b.stopCh:
		b.mu.Unlock()
		return nil
	default:
		close(b.stopCh)
	}
	b.stopTimerLocked()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.cancel()
		<-done
	}
	defer b.cancel()

	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	return b.send(ctx, batch, "shutdown")
}

func (b *ActivityBatcher) send(ctx context.Context, batch []models.Activity, reason string) error {
	log.Debug().
		Int("item_count", len(batch)).
		Str("reason", reason).
		Msg("Flushing activity batch")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.InitialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, b.onFlush(ctx, batch)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(b.cfg.MaxRetries))
	if err == nil {
		telemetry.GetMetrics().ActivityBatchesFlushed.Add(ctx, 1)
		return nil
	}

	log.Warn().
		Err(err).
		Int("item_count", len(batch)).
		Int("attempts", attempt).
		Str("reason", reason).
		Msg("Failed to send activity batch")

	if reason != "shutdown" {
		b.requeue(batch)
	}

	return err
}

// requeue puts a failed batch back at the head of the buffer.
func (b *ActivityBatcher) requeue(batch []models.Activity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.stopCh:
		// picked up by the final flush in Stop
		b.buffer = append(batch, b.buffer...)
		return
	default:
	}

	b.buffer = append(batch, b.buffer...)
	if b.flushTimer == nil {
		b.startFlushTimerLocked()
	}
}

// takeLocked swaps out the buffer. Must be called with lock held.
func (b *ActivityBatcher) takeLocked() []models.Activity {
	b.stopTimerLocked()

	if len(b.buffer) == 0 {
		return nil
	}

	batch := b.buffer
	b.buffer = make([]models.Activity, 0, b.cfg.MaxBatchSize)
	return batch
}

// startFlushTimerLocked starts or restarts the flush timer. Must be called with lock held.
func (b *ActivityBatcher) startFlushTimerLocked() {
	b.stopTimerLocked()

	b.inflight.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(b.cfg.FlushInterval, func() {
		defer b.inflight.Done()

		b.mu.Lock()
		select {
		case <-b.stopCh:
			b.mu.Unlock()
			return
		default:
		}
		if b.flushTimer != timer {
			// replaced or taken since scheduling
			b.mu.Unlock()
			return
		}
		batch := b.takeLocked()
		b.mu.Unlock()

		if len(batch) > 0 {
			_ = b.send(b.ctx, batch, "timer")
		}
	})
	b.flushTimer = timer
}

// stopTimerLocked cancels a pending timer flush. Must be called with lock held.
func (b *ActivityBatcher) stopTimerLocked() {
	if b.flushTimer == nil {
		return
	}
	if b.flushTimer.Stop() {
		// the callback will never run to release its slot
		b.inflight.Done()
	}
	b.flushTimer = nil
}
