package notary

import (
	"math/rand/v2"
	"time"
)

// BackoffPolicy schedules retries after transient sealing failures. The delay
// doubles per attempt from Base up to Cap, with ±10% jitter so a burst of
// failures does not resynchronize into one retry wave.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:       time.Minute,
		Cap:        time.Hour,
		MaxRetries: 10,
	}
}

// NextDelay returns the wait before retry number retryCount (zero-based: the
// first retry after the initial failure passes 0).
func (p BackoffPolicy) NextDelay(retryCount int) time.Duration {
	delay := p.Base
	for i := 0; i < retryCount && delay < p.Cap; i++ {
		delay *= 2
	}
	if delay > p.Cap {
		delay = p.Cap
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(delay) * jitter)
}

// Exhausted reports whether another automatic retry is allowed.
func (p BackoffPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
