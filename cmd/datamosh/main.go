package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/JaylenLuc/datamoshing/internal/config"
	"github.com/JaylenLuc/datamoshing/internal/libav"
	"github.com/JaylenLuc/datamoshing/internal/metrics"
	"github.com/JaylenLuc/datamoshing/internal/mosh"
	"github.com/JaylenLuc/datamoshing/internal/pipeline"
)

var version = "dev"

// Exit statuses, one per failure stage.
const (
	exitOK = iota
	exitUsage
	exitCannotOpen
	exitNoStreamInfo
	exitNoVideoStream
	exitDecoderOpen
	exitEncoderOpen
	exitWriteHeader
	exitRunFailed
)

const usage = `usage: datamosh [-config file] [-o output] [-raw] <input> [strategy]

strategy:
  IntraRemoval, intra_removal, i, -i            drop intra and bidirectional pictures (default)
  PredictedDuplication, predicted_duplication, p, -p
                                                replace an intra picture every transition
                                                period with corrupted copies of the last
                                                predicted picture
`

var errUsage = errors.New("usage")

type options struct {
	configPath string
	output     string
	raw        bool
	input      string
	mode       string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("datamosh", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.output, "o", "", "output container file (overrides config and DATAMOSH_OUTPUT)")
	fs.BoolVar(&opts.raw, "raw", false, "strip IDR units from the coded stream instead of re-encoding")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	rest := fs.Args()
	if len(rest) < 1 || len(rest) > 2 {
		fs.Usage()
		return opts, errUsage
	}
	opts.input = rest[0]
	if len(rest) == 2 {
		if _, err := mosh.ParseMode(rest[1]); err != nil {
			fmt.Fprintf(stderr, "%v\n\n", err)
			fs.Usage()
			return opts, errUsage
		}
		opts.mode = rest[1]
	}
	return opts, nil
}

// apply lays the command line over the loaded configuration.
func (o options) apply(cfg *config.Config) error {
	if o.mode != "" {
		m, err := mosh.ParseMode(o.mode)
		if err != nil {
			return err
		}
		cfg.Mode = m
	}
	if o.output != "" {
		cfg.Output = o.output
	}
	return cfg.Validate()
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return exitUsage
	case errors.Is(err, libav.ErrCannotOpen):
		return exitCannotOpen
	case errors.Is(err, libav.ErrNoStreamInfo):
		return exitNoStreamInfo
	case errors.Is(err, libav.ErrNoVideoStream):
		return exitNoVideoStream
	case errors.Is(err, libav.ErrDecoderOpen):
		return exitDecoderOpen
	case errors.Is(err, libav.ErrEncoderOpen):
		return exitEncoderOpen
	case errors.Is(err, libav.ErrWriteHeader):
		return exitWriteHeader
	default:
		return exitRunFailed
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseArgs(args, os.Stderr)
	if err != nil {
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath, os.Getenv)
	if err == nil {
		err = opts.apply(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "datamosh: %v\n", err)
		return exitUsage
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))
	slog.Info("datamosh starting",
		"version", version,
		"input", opts.input,
		"mode", cfg.Mode.String(),
		"raw", opts.raw,
	)
	slog.Debug("configuration\n" + cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go watchSignals(ctx, sigCh, cancel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	runMetrics := metrics.NewRun(reg)

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-ctx.Done():
			case <-done:
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer close(done)
		if opts.raw {
			return runRaw(ctx, opts.input, cfg)
		}
		return runMosh(ctx, opts.input, cfg, runMetrics)
	})

	err = g.Wait()

	if cfg.Metrics.Textfile != "" {
		if werr := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); werr != nil {
			slog.Warn("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}
	if err != nil {
		slog.Error("datamosh failed", "error", err)
		return exitCode(err)
	}
	return exitOK
}

// watchSignals cancels the run on the first signal. It returns when either a
// signal arrives or ctx is done.
func watchSignals(ctx context.Context, sigCh <-chan os.Signal, cancel context.CancelFunc) {
	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	case <-ctx.Done():
	}
}

// runMosh decodes, moshes and re-encodes input into cfg.Output.
func runMosh(ctx context.Context, input string, cfg *config.Config, obs pipeline.Observer) error {
	src, err := libav.OpenSource(input, nil)
	if err != nil {
		return err
	}
	defer src.Close()

	info := src.Info()
	frameRate := info.FrameRate
	if frameRate.Num() <= 0 || frameRate.Den() <= 0 {
		slog.Warn("input has no usable frame rate, using configured rate", "frame_rate", cfg.FrameRate)
		frameRate = astiav.NewRational(cfg.FrameRate, 1)
	}

	sink, err := libav.OpenSink(libav.SinkConfig{
		Path:      cfg.Output,
		Width:     info.Width,
		Height:    info.Height,
		FrameRate: frameRate,
		Encoder:   cfg.Encoder,
	}, nil)
	if err != nil {
		return err
	}

	p := pipeline.New(src, sink, cfg.MoshConfig(), nil)
	p.SetObserver(obs)
	runErr := p.Run(ctx)

	if err := sink.Close(); err != nil {
		slog.Warn("failed to finalize output", "output", cfg.Output, "error", err)
	}

	s := p.Stats()
	slog.Info("datamosh finished",
		"output", cfg.Output,
		"read", s.Read,
		"forwarded", s.Forwarded,
		"dropped", s.Mosh.Dropped(),
		"synthesized", s.Mosh.Synthesized,
		"transitions", s.Mosh.Transitions,
		"packets", s.PacketsWritten,
		"submit_failures", s.SubmitFailures,
	)
	return runErr
}

// runRaw strips IDR units from input's coded stream and remuxes the result.
func runRaw(ctx context.Context, input string, cfg *config.Config) error {
	raw := &pipeline.Raw{
		Input:   input,
		RawPath: cfg.RawOutput,
		Output:  cfg.Output,
		Extract: func(ctx context.Context, input string, w io.Writer) error {
			return libav.ExtractAnnexB(ctx, input, w, nil)
		},
		Remux: func(ctx context.Context, rawPath, outPath string) error {
			return libav.Remux(ctx, rawPath, outPath, cfg.FrameRate, nil)
		},
	}
	s, err := raw.Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("datamosh finished",
		"raw_output", cfg.RawOutput,
		"output", cfg.Output,
		"idr_units_removed", s.UnitsSkipped,
		"units_kept", s.UnitsKept,
		"bytes_in", s.BytesIn,
		"bytes_out", s.BytesOut,
	)
	return nil
}
