package libav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/asticode/go-astiav"
)

// ExtractAnnexB writes the coded bytes of the first H.264 stream in path to
// w, converted to Annex B by the h264_mp4toannexb bitstream filter. Input
// that is already Annex B passes through unchanged.
func ExtractAnnexB(ctx context.Context, path string, w io.Writer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "extract", "input", path)

	fc, err := openInput(path, nil, nil)
	if err != nil {
		return err
	}
	defer fc.Free()
	defer fc.CloseInput()

	stream := videoStream(fc, astiav.CodecIDH264)
	if stream == nil {
		return fmt.Errorf("%w: %s has no H.264 video stream", ErrNoVideoStream, path)
	}

	filter := astiav.FindBitStreamFilterByName("h264_mp4toannexb")
	if filter == nil {
		return errors.New("libav: h264_mp4toannexb filter not available")
	}
	bsf, err := astiav.AllocBitStreamFilterContext(filter)
	if err != nil {
		return fmt.Errorf("libav: allocate bitstream filter: %w", err)
	}
	defer bsf.Free()
	if err := stream.CodecParameters().Copy(bsf.InputCodecParameters()); err != nil {
		return fmt.Errorf("libav: bitstream filter parameters: %w", err)
	}
	bsf.SetInputTimeBase(stream.TimeBase())
	if err := bsf.Initialize(); err != nil {
		return fmt.Errorf("libav: initialize bitstream filter: %w", err)
	}

	in := astiav.AllocPacket()
	defer in.Free()
	out := astiav.AllocPacket()
	defer out.Free()

	var packets, written int
	receive := func() error {
		for {
			err := bsf.ReceivePacket(out)
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("libav: filter packet: %w", err)
			}
			n, err := w.Write(out.Data())
			out.Unref()
			if err != nil {
				return fmt.Errorf("libav: write elementary stream: %w", err)
			}
			written += n
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fc.ReadFrame(in)
		if errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read packet: %w", ErrDecodeFailed, err)
		}
		if in.StreamIndex() != stream.Index() {
			in.Unref()
			continue
		}
		packets++
		err = bsf.SendPacket(in)
		in.Unref()
		if err != nil {
			return fmt.Errorf("libav: send packet to filter: %w", err)
		}
		if err := receive(); err != nil {
			return err
		}
	}

	if err := bsf.SendPacket(nil); err != nil {
		return fmt.Errorf("libav: flush filter: %w", err)
	}
	if err := receive(); err != nil {
		return err
	}
	log.Info("extracted elementary stream", "packets", packets, "bytes", written)
	return nil
}

// Remux copies the raw H.264 elementary stream at rawPath into a container
// at outPath without re-encoding. The raw stream carries no timestamps, so
// packet n gets pts = dts = n at fps frames per second.
func Remux(ctx context.Context, rawPath, outPath string, fps int, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "remux", "output", outPath)
	if fps <= 0 {
		return fmt.Errorf("libav: invalid remux frame rate %d", fps)
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	if err := opts.Set("framerate", strconv.Itoa(fps), astiav.NewDictionaryFlags()); err != nil {
		return fmt.Errorf("libav: remux options: %w", err)
	}
	in, err := openInput(rawPath, astiav.FindInputFormat("h264"), opts)
	if err != nil {
		return err
	}
	defer in.Free()
	defer in.CloseInput()

	inStream := videoStream(in, astiav.CodecIDH264)
	if inStream == nil {
		return fmt.Errorf("%w: %s", ErrNoVideoStream, rawPath)
	}

	out, err := astiav.AllocOutputFormatContext(nil, "", outPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteHeader, outPath, err)
	}
	if out == nil {
		return fmt.Errorf("%w: %s: cannot allocate output context", ErrWriteHeader, outPath)
	}
	defer out.Free()

	outStream := out.NewStream(nil)
	if outStream == nil {
		return fmt.Errorf("%w: cannot create output stream", ErrWriteHeader)
	}
	if err := inStream.CodecParameters().Copy(outStream.CodecParameters()); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteHeader, err)
	}
	frameTB := astiav.NewRational(1, fps)
	outStream.SetTimeBase(frameTB)

	if !out.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		pb, err := astiav.OpenIOContext(outPath, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWriteHeader, outPath, err)
		}
		defer pb.Close()
		out.SetPb(pb)
	}
	if err := out.WriteHeader(nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteHeader, outPath, err)
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()

	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := in.ReadFrame(pkt)
		if errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read packet: %w", ErrDecodeFailed, err)
		}
		if pkt.StreamIndex() != inStream.Index() {
			pkt.Unref()
			continue
		}

		pkt.SetPts(n)
		pkt.SetDts(n)
		pkt.SetDuration(1)
		pkt.RescaleTs(frameTB, outStream.TimeBase())
		pkt.SetStreamIndex(outStream.Index())
		if err := out.WriteInterleavedFrame(pkt); err != nil {
			log.Warn("packet write failed, skipped", "packet", n, "error", err)
			pkt.Unref()
		}
		n++
	}

	if err := out.WriteTrailer(); err != nil {
		return fmt.Errorf("libav: write trailer: %w", err)
	}
	log.Info("remuxed elementary stream", "packets", n, "frame_rate", fps)
	return nil
}
