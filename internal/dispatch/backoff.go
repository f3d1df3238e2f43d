package dispatch

import "time"

// Backoff is the consumer-side retry policy: exponential delay between
// redelivery attempts of one message, capped at MaxAttempts.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxAttempts  int
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  4,
	}
}

// Delay returns the wait before attempt n (1-based; no wait before the
// first attempt).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(b.InitialDelay)
	for i := 2; i < attempt; i++ {
		d *= b.Multiplier
	}
	return time.Duration(d)
}
