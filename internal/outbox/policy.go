package outbox

import (
	"errors"
	"time"
)

// Policy bounds delivery retries. Steady-state storage errors reuse the same backoff.
type Policy struct {
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		BaseBackoff:    time.Second,
		MaxBackoff:     5 * time.Minute,
		MaxAttempts:    10,
		AttemptTimeout: 5 * time.Second,
	}
}

func (p Policy) Validate() error {
	if p.BaseBackoff <= 0 {
		return errors.New("base backoff must be positive")
	}
	if p.MaxBackoff < p.BaseBackoff {
		return errors.New("max backoff must not be below base backoff")
	}
	if p.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if p.AttemptTimeout <= 0 {
		return errors.New("attempt timeout must be positive")
	}
	return nil
}

// Delay is the wait after the given number of failed attempts:
// min(base * 2^(attempts-1), max).
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}

	d := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return min(d, p.MaxBackoff)
}
