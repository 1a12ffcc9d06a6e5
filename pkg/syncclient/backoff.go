package syncclient

import "time"

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
	defaultMaxAttempts = 10
)

// Backoff produces the reconnect delay schedule. The wait grows linearly
// with the attempt number and is clamped at Cap, so a display can show the
// exact delay before the next attempt.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = defaultBackoffBase
	}
	if b.Cap <= 0 {
		b.Cap = defaultBackoffCap
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = defaultMaxAttempts
	}
	return b
}

// Delay returns the wait before the given attempt, counted from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * b.Base
	if b.Cap > 0 && delay > b.Cap {
		delay = b.Cap
	}
	return delay
}

// Exhausted reports whether the attempt budget is spent.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}
