package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelays(t *testing.T) {
	b := Backoff{InitialDelay: 500 * time.Millisecond, Multiplier: 2, MaxAttempts: 4}

	assert.Equal(t, time.Duration(0), b.Delay(1), "first attempt runs immediately")
	assert.Equal(t, 500*time.Millisecond, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(3))
	assert.Equal(t, 2*time.Second, b.Delay(4))
}

func TestBackoffFlatMultiplier(t *testing.T) {
	b := Backoff{InitialDelay: time.Second, Multiplier: 1, MaxAttempts: 3}

	assert.Equal(t, time.Second, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(3))
}
