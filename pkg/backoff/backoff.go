// Package backoff defines the retry-delay policy used by components that
// perform networked or otherwise fallible operations.
package backoff

import (
	"time"

	"github.com/tidemark-io/tidemark-db/pkg/crypt"
)

// Backoff computes the delay before the next retry attempt. Consecutive
// GetNext calls without an intervening Reset produce a non-decreasing
// sequence bounded by the policy's maximum. Instances are not safe for
// concurrent use; each caller owns its own.
type Backoff interface {
	GetNext() time.Duration
	Reset()
}

// ExponentialBackoff grows the delay by Factor on every attempt, adds up to
// JitterRatio of random jitter and caps at MaxDelay. The sequence is
// non-decreasing as long as Factor >= 1+JitterRatio.
type ExponentialBackoff struct {
	BaseDelay   time.Duration
	Factor      float64
	JitterRatio float64
	MaxDelay    time.Duration

	attempt int
}

// NewExponential returns a policy with the default parameters used by cloud
// sync: 100ms base, doubling, 10% jitter, 1 minute cap.
func NewExponential() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:   100 * time.Millisecond,
		Factor:      2.0,
		JitterRatio: 0.1,
		MaxDelay:    time.Minute,
	}
}

func (b *ExponentialBackoff) GetNext() time.Duration {
	delay := float64(b.BaseDelay)
	for i := 0; i < b.attempt; i++ {
		delay *= b.Factor
		if delay >= float64(b.MaxDelay) {
			delay = float64(b.MaxDelay)
			break
		}
	}
	b.attempt++

	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.JitterRatio > 0 && delay < float64(b.MaxDelay) {
		// Jitter only widens the delay so the sequence stays non-decreasing.
		span := delay * b.JitterRatio
		delay += span * (float64(crypt.RandUint64()%1000) / 1000.0)
	}

	return time.Duration(delay)
}

func (b *ExponentialBackoff) Reset() {
	b.attempt = 0
}

var _ Backoff = (*ExponentialBackoff)(nil)

// TestBackoff is a deterministic policy for tests: a fixed delay and a call
// counter.
type TestBackoff struct {
	Delay      time.Duration
	GetCount   int
	ResetCount int
}

func (b *TestBackoff) GetNext() time.Duration {
	b.GetCount++
	return b.Delay
}

func (b *TestBackoff) Reset() {
	b.ResetCount++
}

var _ Backoff = (*TestBackoff)(nil)
