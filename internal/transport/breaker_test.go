package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, b.TryAcquire())
		b.OnFailure()
	}
	assert.False(t, b.TryAcquire(), "breaker should be open after 3 consecutive failures")
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	assert.True(t, b.TryAcquire(), "run of failures was broken by a success")
}

func TestBreakerAdmitsSingleProbeAfterWindow(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)

	b.OnFailure()
	assert.False(t, b.TryAcquire())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.TryAcquire(), "one probe after the open window")
	assert.False(t, b.TryAcquire(), "only one probe at a time")

	b.OnSuccess()
	assert.True(t, b.TryAcquire(), "probe success closes the breaker")
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)

	b.OnFailure()
	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.TryAcquire())
	b.OnFailure()
	assert.False(t, b.TryAcquire(), "failed probe reopens the window")
}
