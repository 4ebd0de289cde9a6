package libav

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/JaylenLuc/datamoshing/internal/config"
	"github.com/JaylenLuc/datamoshing/internal/media"
)

// SinkConfig describes the output file and the pictures it will receive.
type SinkConfig struct {
	Path      string
	Width     int
	Height    int
	FrameRate astiav.Rational
	Encoder   config.Encoder
}

// Sink encodes media.Frames and writes the packets to a single-stream
// container file.
type Sink struct {
	log *slog.Logger

	fc     *astiav.FormatContext
	pb     *astiav.IOContext
	stream *astiav.Stream
	enc    *astiav.CodecContext
	frame  *astiav.Frame
	pkt    *astiav.Packet

	width, height int
	headerWritten bool
	flushed       bool
}

// OpenSink creates the output file, opens the encoder and writes the
// container header. If log is nil, slog.Default() is used.
func OpenSink(cfg SinkConfig, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sink", "output", cfg.Path)

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrEncoderOpen, cfg.Width, cfg.Height)
	}
	if cfg.FrameRate.Num() <= 0 || cfg.FrameRate.Den() <= 0 {
		return nil, fmt.Errorf("%w: invalid frame rate %d/%d", ErrEncoderOpen, cfg.FrameRate.Num(), cfg.FrameRate.Den())
	}

	s := &Sink{log: log, width: cfg.Width, height: cfg.Height}

	fc, err := astiav.AllocOutputFormatContext(nil, "", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWriteHeader, cfg.Path, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("%w: %s: cannot allocate output context", ErrWriteHeader, cfg.Path)
	}
	s.fc = fc

	codec := astiav.FindEncoderByName(cfg.Encoder.Codec)
	if codec == nil {
		s.Close()
		return nil, fmt.Errorf("%w: encoder %q not found", ErrEncoderOpen, cfg.Encoder.Codec)
	}
	if s.enc = astiav.AllocCodecContext(codec); s.enc == nil {
		s.Close()
		return nil, fmt.Errorf("%w: cannot allocate codec context", ErrEncoderOpen)
	}
	s.enc.SetWidth(cfg.Width)
	s.enc.SetHeight(cfg.Height)
	s.enc.SetPixelFormat(astiav.PixelFormatYuv420P)
	s.enc.SetFramerate(cfg.FrameRate)
	s.enc.SetTimeBase(astiav.NewRational(cfg.FrameRate.Den(), cfg.FrameRate.Num()))
	s.enc.SetGopSize(cfg.Encoder.KeyframeInterval)
	s.enc.SetMaxBFrames(cfg.Encoder.BFrames)
	if fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader) {
		s.enc.SetFlags(s.enc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	for k, v := range EncoderOptions(cfg.Encoder) {
		if err := opts.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: option %s=%s: %w", ErrEncoderOpen, k, v, err)
		}
	}
	if err := s.enc.Open(codec, opts); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoderOpen, cfg.Encoder.Codec, err)
	}

	if s.stream = fc.NewStream(nil); s.stream == nil {
		s.Close()
		return nil, fmt.Errorf("%w: cannot create output stream", ErrWriteHeader)
	}
	if err := s.enc.ToCodecParameters(s.stream.CodecParameters()); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", ErrWriteHeader, err)
	}
	s.stream.SetTimeBase(s.enc.TimeBase())

	if !fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		pb, err := astiav.OpenIOContext(cfg.Path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrWriteHeader, cfg.Path, err)
		}
		s.pb = pb
		fc.SetPb(pb)
	}
	if err := fc.WriteHeader(nil); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrWriteHeader, cfg.Path, err)
	}
	s.headerWritten = true

	s.frame = astiav.AllocFrame()
	s.frame.SetWidth(cfg.Width)
	s.frame.SetHeight(cfg.Height)
	s.frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := s.frame.AllocBuffer(0); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: allocate frame: %w", ErrEncoderOpen, err)
	}
	s.pkt = astiav.AllocPacket()

	log.Info("encoder ready",
		"codec", cfg.Encoder.Codec,
		"width", cfg.Width,
		"height", cfg.Height,
		"frame_rate", cfg.FrameRate.Float64(),
	)
	return s, nil
}

// Submit encodes f and writes every packet the encoder makes ready. The
// frame's PTS is in units of one frame interval.
func (s *Sink) Submit(f *media.Frame) ([]media.Packet, error) {
	if s.flushed {
		return nil, errors.New("libav: submit after flush")
	}
	if f.Width != s.width || f.Height != s.height {
		return nil, fmt.Errorf("libav: frame is %dx%d, encoder expects %dx%d", f.Width, f.Height, s.width, s.height)
	}
	if err := s.frame.MakeWritable(); err != nil {
		return nil, fmt.Errorf("libav: make frame writable: %w", err)
	}
	if err := s.frame.Data().SetBytes(f.Bytes(), 1); err != nil {
		return nil, fmt.Errorf("libav: copy frame: %w", err)
	}
	s.frame.SetPts(f.PTS)
	s.frame.SetPictureType(pictureTypeHint(f.Type))

	if err := s.enc.SendFrame(s.frame); err != nil {
		return nil, fmt.Errorf("libav: send frame pts %d: %w", f.PTS, err)
	}
	return s.drain()
}

// Flush sends end of stream to the encoder and writes the remaining
// packets. Calls after the first return nothing.
func (s *Sink) Flush() ([]media.Packet, error) {
	if s.flushed {
		return nil, nil
	}
	s.flushed = true
	if err := s.enc.SendFrame(nil); err != nil {
		return nil, fmt.Errorf("libav: flush encoder: %w", err)
	}
	return s.drain()
}

// drain receives packets until the encoder needs more input or reports end
// of stream. A packet that fails to write is logged and skipped.
func (s *Sink) drain() ([]media.Packet, error) {
	var out []media.Packet
	for {
		err := s.enc.ReceivePacket(s.pkt)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("libav: receive packet: %w", err)
		}

		s.pkt.RescaleTs(s.enc.TimeBase(), s.stream.TimeBase())
		s.pkt.SetStreamIndex(s.stream.Index())
		p := media.Packet{
			PTS:      s.pkt.Pts(),
			DTS:      s.pkt.Dts(),
			Size:     s.pkt.Size(),
			Keyframe: s.pkt.Flags().Has(astiav.PacketFlagKey),
		}

		if err := s.fc.WriteInterleavedFrame(s.pkt); err != nil {
			s.log.Warn("packet write failed, skipped", "pts", p.PTS, "error", err)
			s.pkt.Unref()
			continue
		}
		out = append(out, p)
	}
}

// Close writes the container trailer and frees the encoder.
func (s *Sink) Close() error {
	var err error
	if s.headerWritten {
		if werr := s.fc.WriteTrailer(); werr != nil {
			err = fmt.Errorf("libav: write trailer: %w", werr)
		}
		s.headerWritten = false
	}
	if s.pkt != nil {
		s.pkt.Free()
		s.pkt = nil
	}
	if s.frame != nil {
		s.frame.Free()
		s.frame = nil
	}
	if s.enc != nil {
		s.enc.Free()
		s.enc = nil
	}
	if s.pb != nil {
		if cerr := s.pb.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("libav: close output: %w", cerr)
		}
		s.pb = nil
	}
	if s.fc != nil {
		s.fc.Free()
		s.fc = nil
	}
	return err
}
