package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealReflectsWallClock(t *testing.T) {
	before := time.Now()
	got := Real.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestFixedNeverAdvancesOnItsOwn(t *testing.T) {
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	f := NewFixed(base)

	assert.True(t, f.Now().Equal(base))
	assert.True(t, f.Now().Equal(base))
}

func TestFixedAdvanceMovesForwardByExactDelta(t *testing.T) {
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	f := NewFixed(base)

	f.Advance(90 * time.Minute)
	assert.True(t, f.Now().Equal(base.Add(90*time.Minute)))
}
