package tracker

import (
	"math/rand/v2"
	"time"
)

const (
	defaultBackoffBase   = 1 * time.Second
	defaultBackoffMax    = 5 * time.Minute
	defaultBackoffJitter = 0.2
)

// BackoffPolicy computes retry delays: exponential growth from Base, capped
// at Max, with a symmetric random jitter fraction to avoid synchronized
// retry bursts.
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoffPolicy returns the engine default: 1s base, 5m cap, 20% jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:   defaultBackoffBase,
		Max:    defaultBackoffMax,
		Jitter: defaultBackoffJitter,
	}
}

// Delay returns the wait before retry number retryCount (1-based).
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}

	delay := p.Base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= p.Max {
			delay = p.Max

			break
		}
	}

	if delay > p.Max {
		delay = p.Max
	}

	if p.Jitter > 0 {
		// Spread the delay across [delay*(1-j), delay*(1+j)].
		spread := 1 - p.Jitter + 2*p.Jitter*rand.Float64()
		delay = time.Duration(float64(delay) * spread)
	}

	return delay
}
