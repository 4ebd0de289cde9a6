package libav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/JaylenLuc/datamoshing/internal/media"
)

// Info describes the selected video stream.
type Info struct {
	Width     int
	Height    int
	Codec     string
	FrameRate astiav.Rational
	TimeBase  astiav.Rational
}

// Source decodes the first video stream of a file into media.Frames. Frames
// are converted to packed 4:2:0 when the decoder outputs another format.
type Source struct {
	log *slog.Logger

	fc     *astiav.FormatContext
	stream *astiav.Stream
	dec    *astiav.CodecContext
	pkt    *astiav.Packet
	frame  *astiav.Frame

	ssc    *astiav.SoftwareScaleContext
	scaled *astiav.Frame

	info      Info
	inputDone bool
	decoded   int64
}

// openInput opens path and probes its streams.
func openInput(path string, format *astiav.InputFormat, opts *astiav.Dictionary) (*astiav.FormatContext, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, fmt.Errorf("%w: %s: cannot allocate format context", ErrCannotOpen, path)
	}
	if err := fc.OpenInput(path, format, opts); err != nil {
		fc.Free()
		return nil, fmt.Errorf("%w: %s: %w", ErrCannotOpen, path, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("%w: %s: %w", ErrNoStreamInfo, path, err)
	}
	return fc, nil
}

// videoStream returns the first video stream, optionally restricted to one
// codec.
func videoStream(fc *astiav.FormatContext, codec astiav.CodecID) *astiav.Stream {
	for _, s := range fc.Streams() {
		par := s.CodecParameters()
		if par.MediaType() != astiav.MediaTypeVideo {
			continue
		}
		if codec != astiav.CodecIDNone && par.CodecID() != codec {
			continue
		}
		return s
	}
	return nil
}

// OpenSource opens path and the decoder for its first video stream. If log
// is nil, slog.Default() is used.
func OpenSource(path string, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "source", "input", path)

	fc, err := openInput(path, nil, nil)
	if err != nil {
		return nil, err
	}
	s := &Source{log: log, fc: fc}

	s.stream = videoStream(fc, astiav.CodecIDNone)
	if s.stream == nil {
		s.Close()
		return nil, fmt.Errorf("%w: %s", ErrNoVideoStream, path)
	}
	par := s.stream.CodecParameters()

	codec := astiav.FindDecoder(par.CodecID())
	if codec == nil {
		s.Close()
		return nil, fmt.Errorf("%w: no decoder for %s", ErrDecoderOpen, par.CodecID().Name())
	}
	if s.dec = astiav.AllocCodecContext(codec); s.dec == nil {
		s.Close()
		return nil, fmt.Errorf("%w: cannot allocate codec context", ErrDecoderOpen)
	}
	if err := par.ToCodecContext(s.dec); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", ErrDecoderOpen, err)
	}
	s.dec.SetTimeBase(s.stream.TimeBase())
	if err := s.dec.Open(codec, nil); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", ErrDecoderOpen, err)
	}

	frameRate := s.stream.AvgFrameRate()
	if frameRate.Num() <= 0 || frameRate.Den() <= 0 {
		frameRate = s.stream.RFrameRate()
	}
	s.info = Info{
		Width:     par.Width(),
		Height:    par.Height(),
		Codec:     par.CodecID().Name(),
		FrameRate: frameRate,
		TimeBase:  s.stream.TimeBase(),
	}
	s.pkt = astiav.AllocPacket()
	s.frame = astiav.AllocFrame()

	log.Info("opened video stream",
		"index", s.stream.Index(),
		"codec", s.info.Codec,
		"width", s.info.Width,
		"height", s.info.Height,
		"frame_rate", frameRate.Float64(),
	)
	return s, nil
}

// Info returns the geometry and timing of the selected stream.
func (s *Source) Info() Info {
	return s.info
}

// NextPicture returns the next decoded picture, reading and sending more
// input whenever the decoder asks for it. After the input is exhausted the
// decoder is drained; io.EOF is returned once it reports end of stream.
func (s *Source) NextPicture(ctx context.Context) (*media.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := s.dec.ReceiveFrame(s.frame)
		switch {
		case err == nil:
			f, err := s.convert(s.frame)
			s.frame.Unref()
			if err != nil {
				return nil, fmt.Errorf("%w: picture %d: %w", ErrDecodeFailed, s.decoded, err)
			}
			s.decoded++
			return f, nil
		case errors.Is(err, astiav.ErrEof):
			s.log.Debug("decoder drained", "pictures", s.decoded)
			return nil, io.EOF
		case !errors.Is(err, astiav.ErrEagain):
			return nil, fmt.Errorf("%w: receive frame: %w", ErrDecodeFailed, err)
		}

		if s.inputDone {
			return nil, io.EOF
		}
		if err := s.feed(); err != nil {
			return nil, err
		}
	}
}

// feed sends the next packet of the selected stream to the decoder, or the
// end-of-stream signal once the input is exhausted.
func (s *Source) feed() error {
	for {
		err := s.fc.ReadFrame(s.pkt)
		if errors.Is(err, astiav.ErrEof) {
			s.inputDone = true
			if err := s.dec.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
				return fmt.Errorf("%w: flush decoder: %w", ErrDecodeFailed, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read packet: %w", ErrDecodeFailed, err)
		}

		if s.pkt.StreamIndex() != s.stream.Index() {
			s.pkt.Unref()
			continue
		}
		err = s.dec.SendPacket(s.pkt)
		s.pkt.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("%w: send packet: %w", ErrDecodeFailed, err)
		}
		return nil
	}
}

// convert copies a decoded picture into a media.Frame.
func (s *Source) convert(src *astiav.Frame) (*media.Frame, error) {
	w, h := src.Width(), src.Height()
	img := src
	if src.PixelFormat() != astiav.PixelFormatYuv420P {
		if err := s.ensureScaler(src); err != nil {
			return nil, err
		}
		if err := s.ssc.ScaleFrame(src, s.scaled); err != nil {
			return nil, fmt.Errorf("scale frame: %w", err)
		}
		img = s.scaled
	}

	n, err := img.ImageBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("image buffer size: %w", err)
	}
	buf := make([]byte, n)
	if _, err := img.ImageCopyToBuffer(buf, 1); err != nil {
		return nil, fmt.Errorf("image copy: %w", err)
	}

	f, err := media.FrameFromBytes(w, h, buf)
	if err != nil {
		return nil, err
	}
	f.Coded = codedType(src.PictureType())
	f.Keyframe = f.Coded == media.CodedI
	f.PTS = src.Pts()
	return f, nil
}

func (s *Source) ensureScaler(src *astiav.Frame) error {
	if s.ssc != nil {
		return nil
	}
	w, h := src.Width(), src.Height()
	ssc, err := astiav.CreateSoftwareScaleContext(
		w, h, src.PixelFormat(),
		w, h, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		return fmt.Errorf("create scaler %dx%d %s -> yuv420p: %w", w, h, src.PixelFormat(), err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(w)
	dst.SetHeight(h)
	dst.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("allocate scaled frame: %w", err)
	}

	s.ssc, s.scaled = ssc, dst
	s.log.Info("converting pictures", "from", src.PixelFormat().String(), "to", "yuv420p")
	return nil
}

// Close frees the decoder and closes the input.
func (s *Source) Close() {
	if s.scaled != nil {
		s.scaled.Free()
		s.scaled = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
	if s.frame != nil {
		s.frame.Free()
		s.frame = nil
	}
	if s.pkt != nil {
		s.pkt.Free()
		s.pkt = nil
	}
	if s.dec != nil {
		s.dec.Free()
		s.dec = nil
	}
	if s.fc != nil {
		s.fc.CloseInput()
		s.fc.Free()
		s.fc = nil
	}
}
