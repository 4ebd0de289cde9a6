package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaylenLuc/datamoshing/internal/media"
	"github.com/JaylenLuc/datamoshing/internal/mosh"
)

type sliceSource struct {
	frames []*media.Frame
	err    error // returned instead of io.EOF once frames run out
}

func (s *sliceSource) NextPicture(context.Context) (*media.Frame, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

type recordingSink struct {
	frames  []*media.Frame
	flushes int
	failPTS map[int64]bool
}

func (s *recordingSink) Submit(f *media.Frame) ([]media.Packet, error) {
	if s.failPTS[f.PTS] {
		return nil, errors.New("encoder rejected frame")
	}
	s.frames = append(s.frames, f)
	return []media.Packet{{PTS: f.PTS, DTS: f.PTS, Size: 1}}, nil
}

func (s *recordingSink) Flush() ([]media.Packet, error) {
	s.flushes++
	return []media.Packet{{}, {}}, nil
}

// gop returns n pictures in a repeating I,P,P,P,P pattern, as a decoder with
// a GOP of 5 and no B-frames would report them.
func gop(n int) []*media.Frame {
	frames := make([]*media.Frame, n)
	for i := range frames {
		f := media.NewYUV420(8, 32)
		f.Coded = media.CodedP
		if i%5 == 0 {
			f.Coded = media.CodedI
			f.Keyframe = true
		}
		f.PTS = int64(i) * 512
		frames[i] = f
	}
	return frames
}

func TestRunIntraRemovalEndToEnd(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := New(&sliceSource{frames: gop(300)}, sink, mosh.DefaultConfig(), nil)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, sink.frames, 240)
	for i, f := range sink.frames {
		assert.Equal(t, int64(i), f.PTS)
		assert.Equal(t, media.PicturePredicted, f.Type)
		assert.False(t, f.Keyframe)
	}
	assert.Equal(t, 1, sink.flushes)

	s := p.Stats()
	assert.Equal(t, int64(300), s.Read)
	assert.Equal(t, int64(240), s.Forwarded)
	assert.Equal(t, int64(242), s.PacketsWritten)
	assert.Equal(t, int64(239), s.LastPTS)
	assert.Equal(t, int64(60), s.Mosh.DroppedIntra)
}

func TestRunPredictedDuplicationEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := mosh.Config{Mode: mosh.PredictedDuplication, TransitionPeriod: 100, CorruptionFrames: 15}
	sink := &recordingSink{}
	p := New(&sliceSource{frames: gop(300)}, sink, cfg, nil)
	require.NoError(t, p.Run(context.Background()))

	// 240 P + 58 untouched I + 2 transitions of 15 synthesized frames. The
	// boundary at ordinal 300 has no later intra picture to replace.
	require.Len(t, sink.frames, 328)
	for i, f := range sink.frames {
		assert.Equal(t, int64(i), f.PTS)
	}

	s := p.Stats()
	assert.Equal(t, int64(2), s.Mosh.Transitions)
	assert.Equal(t, int64(30), s.Mosh.Synthesized)
	assert.Equal(t, int64(2), s.Mosh.DroppedIntra)
}

func TestRunEmptySourceStillFlushes(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := New(&sliceSource{}, sink, mosh.DefaultConfig(), nil)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 1, sink.flushes)
	assert.Equal(t, int64(-1), p.Stats().LastPTS)
}

func TestRunContinuesAfterSubmitFailure(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{failPTS: map[int64]bool{3: true}}
	p := New(&sliceSource{frames: gop(10)}, sink, mosh.DefaultConfig(), nil)
	require.NoError(t, p.Run(context.Background()))

	// 8 P frames forwarded with PTS 0..7; PTS 3 was rejected by the sink.
	require.Len(t, sink.frames, 7)
	assert.Equal(t, int64(4), sink.frames[3].PTS)

	s := p.Stats()
	assert.Equal(t, int64(8), s.Forwarded)
	assert.Equal(t, int64(1), s.SubmitFailures)
	assert.Equal(t, 1, sink.flushes)
}

func TestRunSourceErrorIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("corrupt packet")
	sink := &recordingSink{}
	p := New(&sliceSource{frames: gop(3), err: boom}, sink, mosh.DefaultConfig(), nil)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, sink.flushes)
	assert.Len(t, sink.frames, 2)
}

func TestRunNilPictureIsFatal(t *testing.T) {
	t.Parallel()

	frames := append(gop(2), nil)
	sink := &recordingSink{}
	p := New(&sliceSource{frames: frames}, sink, mosh.DefaultConfig(), nil)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrNilPicture)
	assert.Equal(t, 0, sink.flushes)
	assert.Equal(t, int64(2), p.Stats().Read)
}

func TestRunCancelledSkipsFlush(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	p := New(&sliceSource{frames: gop(5)}, sink, mosh.DefaultConfig(), nil)

	require.ErrorIs(t, p.Run(ctx), context.Canceled)
	assert.Equal(t, 0, sink.flushes)
	assert.Equal(t, int64(0), p.Stats().Read)
}

func TestRunClassifiesFromCodedType(t *testing.T) {
	t.Parallel()

	frames := gop(2)
	// A stale semantic type must not override the decoder's coded type.
	frames[0].Type = media.PicturePredicted
	frames[1].Type = media.PictureIntra

	sink := &recordingSink{}
	p := New(&sliceSource{frames: frames}, sink, mosh.DefaultConfig(), nil)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, sink.frames, 1)
	assert.Equal(t, int64(1), p.Stats().Mosh.DroppedIntra)
}

type countingObserver struct {
	read, forwarded, packets, failures, dropped, synthesized, transitions int
}

func (o *countingObserver) FrameRead()                     { o.read++ }
func (o *countingObserver) FrameForwarded()                { o.forwarded++ }
func (o *countingObserver) PacketsWritten(n int)           { o.packets += n }
func (o *countingObserver) SubmitFailed()                  { o.failures++ }
func (o *countingObserver) FrameDropped(media.PictureType) { o.dropped++ }
func (o *countingObserver) FramesSynthesized(n int)        { o.synthesized += n }
func (o *countingObserver) Transition(bool)                { o.transitions++ }

func TestObserverSeesEveryOutcome(t *testing.T) {
	t.Parallel()

	cfg := mosh.Config{Mode: mosh.PredictedDuplication, TransitionPeriod: 4, CorruptionFrames: 3}
	sink := &recordingSink{failPTS: map[int64]bool{0: true}}
	obs := &countingObserver{}

	p := New(&sliceSource{frames: gop(10)}, sink, cfg, nil)
	p.SetObserver(obs)
	require.NoError(t, p.Run(context.Background()))

	// Ordinals 1..10, intra at 1 and 6. Boundary at 4 turns the intra at 6
	// into 3 synthesized frames; boundary at 8 finds no later intra.
	assert.Equal(t, 10, obs.read)
	assert.Equal(t, 1, obs.dropped)
	assert.Equal(t, 1, obs.transitions)
	assert.Equal(t, 3, obs.synthesized)
	assert.Equal(t, 12, obs.forwarded)
	assert.Equal(t, 1, obs.failures)
	assert.Equal(t, 11+2, obs.packets)
}
