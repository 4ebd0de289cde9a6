package mosh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Mode
	}{
		{"IntraRemoval", IntraRemoval},
		{"intra_removal", IntraRemoval},
		{"-i", IntraRemoval},
		{"I", IntraRemoval},
		{"PredictedDuplication", PredictedDuplication},
		{"predicted_duplication", PredictedDuplication},
		{"-p", PredictedDuplication},
		{" p ", PredictedDuplication},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseMode("-x")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestModeText(t *testing.T) {
	t.Parallel()

	b, err := PredictedDuplication.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "PredictedDuplication", string(b))

	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("intra_removal")))
	assert.Equal(t, IntraRemoval, m)

	_, err = Mode(9).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Mode = PredictedDuplication
	assert.NoError(t, cfg.Validate())

	cfg.TransitionPeriod = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPeriod)

	cfg.TransitionPeriod = 10
	cfg.CorruptionFrames = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCorruption)

	// Period and count are irrelevant to IntraRemoval.
	cfg.Mode = IntraRemoval
	assert.NoError(t, cfg.Validate())

	cfg.Mode = Mode(7)
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownMode)
}
