package mosh

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the strategy state machine.
type Mode int

const (
	// IntraRemoval drops every intra and bidirectional picture and forwards
	// the rest, so motion vectors keep smearing the last scene forward.
	IntraRemoval Mode = iota
	// PredictedDuplication forwards the stream mostly untouched but replaces
	// the first intra picture after every transition boundary with a burst of
	// corrupted copies of the last predicted picture.
	PredictedDuplication
)

// Strategy defaults.
const (
	DefaultTransitionPeriod = 100
	DefaultCorruptionFrames = 15
)

// Configuration errors.
var (
	ErrUnknownMode       = errors.New("mosh: unknown mode")
	ErrInvalidPeriod     = errors.New("mosh: transition period must be positive")
	ErrInvalidCorruption = errors.New("mosh: corruption frame count must not be negative")
)

func (m Mode) String() string {
	switch m {
	case IntraRemoval:
		return "IntraRemoval"
	case PredictedDuplication:
		return "PredictedDuplication"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the long names, their snake_case forms, and the short
// CLI switches ("i", "-i", "p", "-p"). Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intraremoval", "intra_removal", "i", "-i":
		return IntraRemoval, nil
	case "predictedduplication", "predicted_duplication", "p", "-p":
		return PredictedDuplication, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// MarshalText writes the long name of m.
func (m Mode) MarshalText() ([]byte, error) {
	if m != IntraRemoval && m != PredictedDuplication {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts anything ParseMode does.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Config selects and parameterizes a strategy.
type Config struct {
	Mode Mode
	// TransitionPeriod is the number of pictures between transition
	// boundaries. Only used by PredictedDuplication.
	TransitionPeriod int64
	// CorruptionFrames is how many corrupted frames replace a suppressed
	// intra picture. Only used by PredictedDuplication.
	CorruptionFrames int
}

// DefaultConfig returns IntraRemoval with the default transition constants.
func DefaultConfig() Config {
	return Config{
		Mode:             IntraRemoval,
		TransitionPeriod: DefaultTransitionPeriod,
		CorruptionFrames: DefaultCorruptionFrames,
	}
}

// Validate checks the fields the selected mode uses.
func (c Config) Validate() error {
	switch c.Mode {
	case IntraRemoval:
		return nil
	case PredictedDuplication:
		if c.TransitionPeriod <= 0 {
			return ErrInvalidPeriod
		}
		if c.CorruptionFrames < 0 {
			return ErrInvalidCorruption
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(c.Mode))
	}
}
