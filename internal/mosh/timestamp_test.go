package mosh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampsStartAtZero(t *testing.T) {
	t.Parallel()

	var ts Timestamps
	for i := int64(0); i < 5; i++ {
		assert.Equal(t, i, ts.Next())
	}
	assert.Equal(t, int64(5), ts.Issued())
}

func TestTransitionDetector(t *testing.T) {
	t.Parallel()

	d := transitionDetector{period: 3}
	var fired []int64
	for i := 0; i < 9; i++ {
		ord := d.observe()
		if d.consume() {
			fired = append(fired, ord)
		}
	}
	assert.Equal(t, []int64{3, 6, 9}, fired)
}

func TestTransitionDetectorPendingSurvivesUntilConsumed(t *testing.T) {
	t.Parallel()

	d := transitionDetector{period: 2}
	d.observe()
	d.observe() // fires
	d.observe()
	d.observe() // fires again, still one pending flag
	assert.True(t, d.consume())
	assert.False(t, d.consume())
}

func TestTransitionDetectorDisabled(t *testing.T) {
	t.Parallel()

	var d transitionDetector
	for i := 0; i < 100; i++ {
		d.observe()
	}
	assert.False(t, d.consume())
	assert.Equal(t, int64(100), d.ordinal)
}
