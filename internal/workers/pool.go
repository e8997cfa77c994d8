// Package workers runs CPU-heavy credential work (bcrypt, backup-code scans)
// on a bounded number of goroutines so a login flood cannot starve the server.
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrPoolSaturated is returned immediately when the queue ceiling is reached
var ErrPoolSaturated = errors.New("worker pool saturated")

// Config sizes the pool
type Config struct {
	Workers    int
	QueueDepth int
	Timeout    time.Duration
}

// Pool admits at most Workers+QueueDepth callers at once. Workers of them run;
// the rest wait for a slot until their deadline.
type Pool struct {
	slots     *semaphore.Weighted
	admission *semaphore.Weighted
	timeout   time.Duration
}

func NewPool(config Config) *Pool {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.QueueDepth < 0 {
		config.QueueDepth = 0
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	return &Pool{
		slots:     semaphore.NewWeighted(int64(config.Workers)),
		admission: semaphore.NewWeighted(int64(config.Workers + config.QueueDepth)),
		timeout:   config.Timeout,
	}
}

// Do runs fn on a worker slot and waits for its result. It returns
// ErrPoolSaturated without queueing when the ceiling is reached, and
// context.DeadlineExceeded when no result arrives within the pool timeout.
// A timed-out fn keeps its slot until it finishes.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if !p.admission.TryAcquire(1) {
		return ErrPoolSaturated
	}
	defer p.admission.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for worker: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer p.slots.Release(1)
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("worker did not finish: %w", ctx.Err())
	}
}

// IsTransient reports whether err came from saturation or a deadline rather than from the work itself
func IsTransient(err error) bool {
	return errors.Is(err, ErrPoolSaturated) || errors.Is(err, context.DeadlineExceeded)
}
