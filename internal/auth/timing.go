package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// FailureDelayConfig sets the floor applied to rejected logins
type FailureDelayConfig struct {
	Base   time.Duration
	Jitter time.Duration
}

// FailureDelay pads rejected attempts so that an unknown identifier, a wrong
// password and a locked account take about the same time to answer.
type FailureDelay struct {
	config FailureDelayConfig
	sleep  func(ctx context.Context, d time.Duration)
}

// NewFailureDelay creates a FailureDelay. A zero config disables padding.
func NewFailureDelay(config FailureDelayConfig) *FailureDelay {
	return &FailureDelay{config: config, sleep: sleepContext}
}

// PadFrom sleeps until at least Base plus a random share of Jitter has
// elapsed since start, or ctx is done
func (fd *FailureDelay) PadFrom(ctx context.Context, start time.Time) {
	if fd == nil || fd.config.Base <= 0 && fd.config.Jitter <= 0 {
		return
	}

	target := fd.config.Base + randomDuration(fd.config.Jitter)
	if remaining := target - time.Since(start); remaining > 0 {
		fd.sleep(ctx, remaining)
	}
}

// randomDuration returns a uniform duration in [0, max) from crypto/rand
func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
