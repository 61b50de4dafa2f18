package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinLimit(t *testing.T) {
	limiter := NewSlidingWindow()
	limit := Limit{MaxCalls: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		d := limiter.Allow("search:user-1", limit)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
}

func TestRejectAtLimit(t *testing.T) {
	limiter := NewSlidingWindow()
	limit := Limit{MaxCalls: 1, Window: time.Minute}

	first := limiter.Allow("search:user-1", limit)
	assert.True(t, first.Allowed)

	second := limiter.Allow("search:user-1", limit)
	assert.False(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)
	assert.WithinDuration(t, time.Now().Add(time.Minute), second.ResetAt, time.Second)
}

func TestWindowSlides(t *testing.T) {
	limiter := NewSlidingWindow()
	now := time.Now()
	limiter.now = func() time.Time { return now }
	limit := Limit{MaxCalls: 1, Window: time.Minute}

	assert.True(t, limiter.Allow("k", limit).Allowed)
	assert.False(t, limiter.Allow("k", limit).Allowed)

	// Advance past the window: the old call no longer counts.
	now = now.Add(61 * time.Second)
	assert.True(t, limiter.Allow("k", limit).Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	limiter := NewSlidingWindow()
	limit := Limit{MaxCalls: 1, Window: time.Minute}

	assert.True(t, limiter.Allow("search:user-1", limit).Allowed)
	assert.True(t, limiter.Allow("search:user-2", limit).Allowed)
	assert.False(t, limiter.Allow("search:user-1", limit).Allowed)
}

func TestReset(t *testing.T) {
	limiter := NewSlidingWindow()
	limit := Limit{MaxCalls: 1, Window: time.Minute}

	assert.True(t, limiter.Allow("k", limit).Allowed)
	limiter.Reset("k")
	assert.True(t, limiter.Allow("k", limit).Allowed)
}

func TestInvalidLimitNeverBlocks(t *testing.T) {
	limiter := NewSlidingWindow()
	d := limiter.Allow("k", Limit{})
	assert.True(t, d.Allowed)
}

func TestLimitValidate(t *testing.T) {
	assert.Error(t, Limit{MaxCalls: 0, Window: time.Minute}.Validate())
	assert.Error(t, Limit{MaxCalls: 5, Window: 0}.Validate())
	assert.NoError(t, Limit{MaxCalls: 5, Window: time.Minute}.Validate())
}
