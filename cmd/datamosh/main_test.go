package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaylenLuc/datamoshing/internal/config"
	"github.com/JaylenLuc/datamoshing/internal/libav"
	"github.com/JaylenLuc/datamoshing/internal/mosh"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want options
	}{
		{"input only", []string{"in.mp4"}, options{input: "in.mp4"}},
		{"short switch", []string{"in.mp4", "-p"}, options{input: "in.mp4", mode: "-p"}},
		{"long name", []string{"in.mp4", "IntraRemoval"}, options{input: "in.mp4", mode: "IntraRemoval"}},
		{"flags", []string{"-config", "d.yaml", "-o", "out.mp4", "-raw", "in.mp4"},
			options{configPath: "d.yaml", output: "out.mp4", raw: true, input: "in.mp4"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseArgs(tt.args, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArgsUsage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", nil},
		{"help", []string{"-h"}},
		{"unknown strategy", []string{"in.mp4", "sideways"}},
		{"too many arguments", []string{"in.mp4", "p", "extra"}},
		{"unknown flag", []string{"-x", "in.mp4"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stderr bytes.Buffer
			_, err := parseArgs(tt.args, &stderr)
			require.Error(t, err)
			assert.Equal(t, exitUsage, exitCode(err))
			assert.Contains(t, stderr.String(), "usage: datamosh")
		})
	}
}

func TestApplyOverridesConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	opts := options{input: "in.mp4", mode: "p", output: "flag.mp4"}
	require.NoError(t, opts.apply(cfg))
	assert.Equal(t, mosh.PredictedDuplication, cfg.Mode)
	assert.Equal(t, "flag.mp4", cfg.Output)

	cfg = config.Default()
	require.NoError(t, options{input: "in.mp4"}.apply(cfg))
	assert.Equal(t, mosh.IntraRemoval, cfg.Mode)
	assert.Equal(t, config.DefaultOutput, cfg.Output)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errUsage, 1},
		{flag.ErrHelp, 1},
		{fmt.Errorf("%w: in.mp4: no such file", libav.ErrCannotOpen), 2},
		{libav.ErrNoStreamInfo, 3},
		{libav.ErrNoVideoStream, 4},
		{libav.ErrDecoderOpen, 5},
		{libav.ErrEncoderOpen, 6},
		{libav.ErrWriteHeader, 7},
		{fmt.Errorf("pipeline: read picture 4: %w", libav.ErrDecodeFailed), 8},
		{errors.New("anything else"), 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "error %v", tt.err)
	}
}

func TestWatchSignalsCancelsOnSignal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		watchSignals(ctx, sigCh, cancel)
		close(done)
	}()

	sigCh <- syscall.SIGTERM
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchSignals did not return after a signal")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWatchSignalsReturnsWhenRunEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		watchSignals(ctx, sigCh, func() { t.Error("cancel called without a signal") })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchSignals did not return after the context ended")
	}
}
