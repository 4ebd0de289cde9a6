package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JaylenLuc/datamoshing/internal/demux"
)

// ExtractFunc writes the Annex B elementary stream of input's video track to w.
type ExtractFunc func(ctx context.Context, input string, w io.Writer) error

// RemuxFunc re-containers the elementary stream at rawPath into outPath
// without re-encoding.
type RemuxFunc func(ctx context.Context, rawPath, outPath string) error

// Raw is the no-re-encode path: it removes every IDR unit from the coded
// stream, writes the result as a raw elementary stream and optionally
// remuxes it into a container.
type Raw struct {
	Input   string
	RawPath string
	Output  string

	Extract ExtractFunc
	Remux   RemuxFunc // nil skips remuxing
	Log     *slog.Logger
}

// RawStats summarizes one raw-path run.
type RawStats struct {
	BytesIn        int
	BytesOut       int
	UnitsKept      int
	UnitsSkipped   int
	SkippedOffsets []int
	Input          demux.Census // unit counts before stripping
	Width          int          // 0 if the stream carried no parseable SPS
	Height         int
	Codec          string
}

// Run executes the raw path.
func (r *Raw) Run(ctx context.Context) (RawStats, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "raw")

	if r.Extract == nil {
		return RawStats{}, errors.New("pipeline: raw path has no extractor")
	}

	var buf bytes.Buffer
	if err := r.Extract(ctx, r.Input, &buf); err != nil {
		return RawStats{}, fmt.Errorf("pipeline: extract %s: %w", r.Input, err)
	}
	if err := ctx.Err(); err != nil {
		return RawStats{}, err
	}

	in := buf.Bytes()
	units := demux.ParseAnnexB(in)
	out, skipped := demux.StripIDR(in)

	stats := RawStats{
		BytesIn:        len(in),
		BytesOut:       len(out),
		UnitsKept:      len(units) - len(skipped),
		UnitsSkipped:   len(skipped),
		SkippedOffsets: skipped,
		Input:          demux.Count(units),
	}
	if info, ok := demux.FirstSPS(units); ok {
		stats.Width = info.Width
		stats.Height = info.Height
		stats.Codec = info.CodecString()
	}
	log.Info("stripped IDR units",
		"units", len(units),
		"skipped", stats.UnitsSkipped,
		"slices", stats.Input.Slices,
		"sei", stats.Input.SEI,
		"aud", stats.Input.AUD,
		"bytes_in", stats.BytesIn,
		"bytes_out", stats.BytesOut,
		"width", stats.Width,
		"height", stats.Height,
	)

	if err := os.WriteFile(r.RawPath, out, 0o644); err != nil {
		return stats, fmt.Errorf("pipeline: write %s: %w", r.RawPath, err)
	}
	log.Info("wrote elementary stream", "path", r.RawPath)

	if r.Remux == nil || r.Output == "" {
		return stats, nil
	}
	if err := r.Remux(ctx, r.RawPath, r.Output); err != nil {
		return stats, fmt.Errorf("pipeline: remux %s: %w", r.Output, err)
	}
	log.Info("remuxed", "output", r.Output)
	return stats, nil
}
