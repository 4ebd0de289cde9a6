package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaylenLuc/datamoshing/internal/demux"
)

var (
	rawSPS = []byte{
		0x00, 0x00, 0x00, 0x01,
		0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
		0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
		0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
		0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
		0x3a, 0x8e, 0x18, 0xc9,
	}
	rawIDR   = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21}
	rawSlice = []byte{0x00, 0x00, 0x01, 0x41, 0x9A, 0x10}
)

func staticExtract(data []byte) ExtractFunc {
	return func(_ context.Context, _ string, w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
}

func TestRawStripsIDRAndRemuxes(t *testing.T) {
	t.Parallel()

	var in []byte
	for _, part := range [][]byte{rawSPS, rawIDR, rawSlice, rawSlice, rawIDR, rawSlice} {
		in = append(in, part...)
	}

	dir := t.TempDir()
	var remuxed []string
	r := &Raw{
		Input:   "input.mp4",
		RawPath: filepath.Join(dir, "output.h264"),
		Output:  filepath.Join(dir, "data_moshed.mp4"),
		Extract: staticExtract(in),
		Remux: func(_ context.Context, rawPath, outPath string) error {
			remuxed = append(remuxed, rawPath, outPath)
			return nil
		},
	}

	stats, err := r.Run(context.Background())
	require.NoError(t, err)

	var want []byte
	for _, part := range [][]byte{rawSPS, rawSlice, rawSlice, rawSlice} {
		want = append(want, part...)
	}
	got, err := os.ReadFile(r.RawPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, len(in), stats.BytesIn)
	assert.Equal(t, len(want), stats.BytesOut)
	assert.Equal(t, 4, stats.UnitsKept)
	assert.Equal(t, 2, stats.UnitsSkipped)
	assert.Equal(t, []int{len(rawSPS), len(rawSPS) + len(rawIDR) + 2*len(rawSlice)}, stats.SkippedOffsets)
	assert.Equal(t, 256, stats.Width)
	assert.Equal(t, 192, stats.Height)
	assert.Equal(t, demux.Census{Slices: 3, IDR: 2, SPS: 1}, stats.Input)
	assert.Equal(t, []string{r.RawPath, r.Output}, remuxed)
}

func TestRawWithoutRemux(t *testing.T) {
	t.Parallel()

	r := &Raw{
		RawPath: filepath.Join(t.TempDir(), "output.h264"),
		Extract: staticExtract(rawSlice),
	}
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnitsKept)
	assert.Zero(t, stats.Width)
	assert.FileExists(t, r.RawPath)
}

func TestRawExtractError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no h264 stream")
	r := &Raw{
		RawPath: filepath.Join(t.TempDir(), "output.h264"),
		Extract: func(context.Context, string, io.Writer) error { return boom },
	}
	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.NoFileExists(t, r.RawPath)
}

func TestRawRemuxError(t *testing.T) {
	t.Parallel()

	boom := errors.New("mux failed")
	r := &Raw{
		RawPath: filepath.Join(t.TempDir(), "output.h264"),
		Output:  "out.mp4",
		Extract: staticExtract(rawSlice),
		Remux:   func(context.Context, string, string) error { return boom },
	}
	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRawRequiresExtractor(t *testing.T) {
	t.Parallel()

	_, err := (&Raw{}).Run(context.Background())
	require.Error(t, err)
}
