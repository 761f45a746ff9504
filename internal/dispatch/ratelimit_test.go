package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagekit/campaign-engine/internal/config"
	"github.com/engagekit/campaign-engine/internal/model"
)

func TestLimiterKindOverridesDefault(t *testing.T) {
	l := NewLimiter(config.SendRatesConfig{
		Default: config.SendRate{RPS: 10, Burst: 10},
		Kinds: map[string]config.SendRate{
			"email": {RPS: 50, Burst: 100},
		},
	})

	email := l.bucket(model.ChannelEmail)
	assert.EqualValues(t, 50, email.Limit())
	assert.Equal(t, 100, email.Burst())

	wa := l.bucket(model.ChannelWhatsApp)
	assert.EqualValues(t, 10, wa.Limit())
	assert.Equal(t, 10, wa.Burst(), "burst defaults to rps")
}

func TestLimiterBucketsAreSharedPerKind(t *testing.T) {
	l := NewLimiter(config.SendRatesConfig{Default: config.SendRate{RPS: 1, Burst: 1}})
	assert.Same(t, l.bucket(model.ChannelEmail), l.bucket(model.ChannelEmail))
	assert.NotSame(t, l.bucket(model.ChannelEmail), l.bucket(model.ChannelWhatsApp))
}

func TestLimiterAcquireTimesOutWhenExhausted(t *testing.T) {
	l := NewLimiter(config.SendRatesConfig{Default: config.SendRate{RPS: 1, Burst: 1}})

	// first token is free, second has to wait a full second
	require.NoError(t, l.Acquire(context.Background(), model.ChannelEmail, 100*time.Millisecond))

	start := time.Now()
	err := l.Acquire(context.Background(), model.ChannelEmail, 30*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterAcquireHonorsParentContext(t *testing.T) {
	l := NewLimiter(config.SendRatesConfig{Default: config.SendRate{RPS: 1, Burst: 1}})
	require.NoError(t, l.Acquire(context.Background(), model.ChannelEmail, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Acquire(ctx, model.ChannelEmail, time.Second))
}
