// Package pipeline drives one datamosh run: it pulls decoded pictures from a
// Source, classifies them, passes them through the strategy state machine and
// submits whatever comes out to a Sink, draining the sink once at end of
// stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/JaylenLuc/datamoshing/internal/media"
	"github.com/JaylenLuc/datamoshing/internal/mosh"
)

// Source yields decoded pictures in decode order. NextPicture returns io.EOF
// once the input is exhausted and the decoder drained; any other error ends
// the run.
type Source interface {
	NextPicture(ctx context.Context) (*media.Frame, error)
}

// Sink encodes and writes frames. Submit takes ownership of the frame and
// returns the packets that became ready because of it. Flush signals end of
// stream and returns the remaining buffered packets.
type Sink interface {
	Submit(f *media.Frame) ([]media.Packet, error)
	Flush() ([]media.Packet, error)
}

// ErrNilPicture is returned by Run when a Source yields neither a picture
// nor an error.
var ErrNilPicture = errors.New("pipeline: source returned no picture")

// Observer receives pipeline-level events in addition to the mosher's
// per-frame outcomes.
type Observer interface {
	mosh.Observer
	FrameRead()
	FrameForwarded()
	PacketsWritten(n int)
	SubmitFailed()
}

// Stats is a snapshot of a pipeline's counters.
type Stats struct {
	Read           int64
	Forwarded      int64
	PacketsWritten int64
	SubmitFailures int64
	// LastPTS is the output timestamp of the most recently forwarded frame,
	// or -1 if nothing was forwarded.
	LastPTS int64
	Mosh    mosh.Stats
}

// Pipeline connects one Source to one Sink through a Mosher. It is
// single-threaded: Run processes one picture completely before reading the
// next. Stats may be called concurrently with Run.
type Pipeline struct {
	log      *slog.Logger
	src      Source
	sink     Sink
	mosher   *mosh.Mosher
	observer Observer

	read           atomic.Int64
	forwarded      atomic.Int64
	packetsWritten atomic.Int64
	submitFailures atomic.Int64
	lastPTS        atomic.Int64

	mu        sync.Mutex
	moshStats mosh.Stats
}

// New creates a Pipeline for one run with the given strategy configuration.
// If log is nil, slog.Default() is used.
func New(src Source, sink Sink, cfg mosh.Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		log:    log.With("component", "pipeline"),
		src:    src,
		sink:   sink,
		mosher: mosh.New(cfg, log),
	}
	p.lastPTS.Store(-1)
	return p
}

// SetObserver installs o to receive pipeline and mosher events. It must be
// called before Run.
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
	if o == nil {
		p.mosher.SetObserver(nil)
		return
	}
	p.mosher.SetObserver(o)
}

// Stats returns a point-in-time snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	ms := p.moshStats
	p.mu.Unlock()
	return Stats{
		Read:           p.read.Load(),
		Forwarded:      p.forwarded.Load(),
		PacketsWritten: p.packetsWritten.Load(),
		SubmitFailures: p.submitFailures.Load(),
		LastPTS:        p.lastPTS.Load(),
		Mosh:           ms,
	}
}

// Run reads pictures until the source reports io.EOF, then flushes the sink
// exactly once. A source error or context cancellation ends the run without
// flushing. Frame submit failures are logged and counted but do not end the
// run. The reference frame is released when Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.mosher.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := p.src.NextPicture(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("pipeline: read picture %d: %w", p.read.Load(), err)
		}
		if f == nil {
			return fmt.Errorf("%w at picture %d", ErrNilPicture, p.read.Load())
		}

		p.read.Add(1)
		if p.observer != nil {
			p.observer.FrameRead()
		}

		f.Type = mosh.Classify(f.Coded)
		out := p.mosher.Process(f)
		p.syncMoshStats()

		for _, o := range out {
			p.submit(o)
		}
	}

	p.log.Debug("end of stream, flushing sink", "read", p.read.Load(), "forwarded", p.forwarded.Load())
	pkts, err := p.sink.Flush()
	p.wrote(pkts)
	if err != nil {
		p.failed()
		p.log.Warn("flush failed", "error", err)
	}
	return nil
}

func (p *Pipeline) submit(f *media.Frame) {
	pts := f.PTS
	p.forwarded.Add(1)
	p.lastPTS.Store(pts)
	if p.observer != nil {
		p.observer.FrameForwarded()
	}

	pkts, err := p.sink.Submit(f)
	p.wrote(pkts)
	if err != nil {
		p.failed()
		p.log.Warn("submit failed, frame skipped", "pts", pts, "error", err)
	}
}

func (p *Pipeline) wrote(pkts []media.Packet) {
	if len(pkts) == 0 {
		return
	}
	p.packetsWritten.Add(int64(len(pkts)))
	if p.observer != nil {
		p.observer.PacketsWritten(len(pkts))
	}
}

func (p *Pipeline) failed() {
	p.submitFailures.Add(1)
	if p.observer != nil {
		p.observer.SubmitFailed()
	}
}

func (p *Pipeline) syncMoshStats() {
	s := p.mosher.Stats()
	p.mu.Lock()
	p.moshStats = s
	p.mu.Unlock()
}
