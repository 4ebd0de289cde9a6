package mosh

import (
	"log/slog"

	"github.com/JaylenLuc/datamoshing/internal/media"
)

// Observer receives per-frame outcomes as the Mosher makes decisions. It is
// called synchronously from Process.
type Observer interface {
	FrameDropped(t media.PictureType)
	FramesSynthesized(n int)
	Transition(hadReference bool)
}

type nopObserver struct{}

func (nopObserver) FrameDropped(media.PictureType) {}
func (nopObserver) FramesSynthesized(int)          {}
func (nopObserver) Transition(bool)                {}

// Stats counts what a Mosher has done so far.
type Stats struct {
	Read                        int64
	Forwarded                   int64
	Synthesized                 int64
	DroppedIntra                int64
	DroppedBidirectional        int64
	DroppedUnspecified          int64
	Transitions                 int64
	TransitionsWithoutReference int64
}

// Dropped returns the total number of input pictures that were not forwarded.
func (s Stats) Dropped() int64 {
	return s.DroppedIntra + s.DroppedBidirectional + s.DroppedUnspecified
}

// Mosher is the strategy state machine. It owns the reference frame, the
// transition detector and the output timestamp counter for one run. A Mosher
// is not safe for concurrent use.
type Mosher struct {
	cfg      Config
	log      *slog.Logger
	observer Observer

	ref         referenceCache
	transitions transitionDetector
	clock       Timestamps
	stats       Stats
}

// New creates a Mosher for cfg. If log is nil, slog.Default() is used.
func New(cfg Config, log *slog.Logger) *Mosher {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "mosher", "mode", cfg.Mode.String())

	m := &Mosher{
		cfg:      cfg,
		log:      log,
		observer: nopObserver{},
	}
	m.ref.log = log
	if cfg.Mode == PredictedDuplication {
		m.transitions.period = cfg.TransitionPeriod
	}
	return m
}

// SetObserver installs o to receive per-frame outcomes. A nil o disables
// observation.
func (m *Mosher) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	m.observer = o
}

// Process consumes one classified frame, in input order, and returns the
// frames to forward to the encoder, in order, with output timestamps
// assigned. Ownership of f passes to the Mosher; ownership of the returned
// frames passes to the caller. The returned frames never alias the cached
// reference frame.
func (m *Mosher) Process(f *media.Frame) []*media.Frame {
	if f == nil {
		return nil
	}
	m.stats.Read++
	ordinal := m.transitions.observe()

	switch m.cfg.Mode {
	case PredictedDuplication:
		return m.duplicatePredicted(f, ordinal)
	default:
		return m.removeIntra(f)
	}
}

// Stats returns a snapshot of the counters.
func (m *Mosher) Stats() Stats {
	return m.stats
}

// Close releases the reference frame.
func (m *Mosher) Close() {
	m.ref.release()
}

func (m *Mosher) removeIntra(f *media.Frame) []*media.Frame {
	switch f.Type {
	case media.PictureIntra, media.PictureBidirectional:
		m.drop(f.Type)
		return nil
	default:
		return []*media.Frame{m.acceptPredicted(f)}
	}
}

func (m *Mosher) duplicatePredicted(f *media.Frame, ordinal int64) []*media.Frame {
	switch f.Type {
	case media.PictureBidirectional:
		m.drop(f.Type)
		return nil

	case media.PictureIntra:
		if !m.transitions.consume() {
			return []*media.Frame{m.emit(f)}
		}
		m.drop(f.Type)
		return m.transition(ordinal)

	case media.PictureUnspecified:
		if f.Coded == media.CodedNone {
			m.drop(f.Type)
			return nil
		}
		return []*media.Frame{m.acceptPredicted(f)}

	default:
		return []*media.Frame{m.acceptPredicted(f)}
	}
}

// transition replaces a suppressed intra picture with corrupted copies of
// the reference frame.
func (m *Mosher) transition(ordinal int64) []*media.Frame {
	m.stats.Transitions++
	ref := m.ref.load()
	if ref == nil {
		m.stats.TransitionsWithoutReference++
		m.observer.Transition(false)
		m.log.Info("transition before any predicted frame, nothing to duplicate", "ordinal", ordinal)
		return nil
	}
	m.observer.Transition(true)

	n := m.cfg.CorruptionFrames
	out := make([]*media.Frame, 0, n)
	for i := 0; i < n; i++ {
		c := Corrupt(ref, i)
		c.Type = media.PicturePredicted
		c.Coded = media.CodedP
		c.Keyframe = false
		out = append(out, m.emit(c))
	}
	m.stats.Synthesized += int64(n)
	m.observer.FramesSynthesized(n)
	m.log.Debug("transition", "ordinal", ordinal, "synthesized", n)
	return out
}

// acceptPredicted caches a copy of f as the new reference and forwards f as
// a non-key predicted frame.
func (m *Mosher) acceptPredicted(f *media.Frame) *media.Frame {
	f.Type = media.PicturePredicted
	f.Keyframe = false
	m.ref.store(f.Clone())
	return m.emit(f)
}

func (m *Mosher) emit(f *media.Frame) *media.Frame {
	f.PTS = m.clock.Next()
	m.stats.Forwarded++
	return f
}

func (m *Mosher) drop(t media.PictureType) {
	switch t {
	case media.PictureIntra:
		m.stats.DroppedIntra++
	case media.PictureBidirectional:
		m.stats.DroppedBidirectional++
	default:
		m.stats.DroppedUnspecified++
	}
	m.observer.FrameDropped(t)
}
