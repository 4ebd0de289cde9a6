// Command gen-input renders a deterministic H.264 test clip with ffmpeg for
// manual end-to-end datamosh runs. The clip has a fixed GOP so intra pictures
// land on predictable ordinals.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

func main() {
	duration := flag.Float64("duration", 10, "clip length in seconds")
	rate := flag.Int("rate", 30, "frame rate")
	gop := flag.Int("gop", 30, "keyframe interval in frames")
	bframes := flag.Int("bframes", 0, "maximum consecutive B-frames")
	size := flag.String("size", "640x360", "picture size")
	annexB := flag.Bool("annexb", false, "also write a raw Annex B .h264 copy")
	out := flag.String("o", "", "output file (default test/streams/input.mp4)")
	flag.Parse()

	checkDeps()

	if *out == "" {
		streamsDir := filepath.Join(findProjectRoot(), "test", "streams")
		if err := os.MkdirAll(streamsDir, 0755); err != nil {
			fatal("create streams dir: %v", err)
		}
		*out = filepath.Join(streamsDir, "input.mp4")
	}

	fmt.Printf("Rendering %.0fs of testsrc2 at %s, %d fps, GOP %d, %d B-frames\n",
		*duration, *size, *rate, *gop, *bframes)

	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc2=size=%s:rate=%d:duration=%g", *size, *rate, *duration),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(*gop),
		"-keyint_min", strconv.Itoa(*gop),
		"-sc_threshold", "0",
		"-bf", strconv.Itoa(*bframes),
		*out,
	}
	if err := ffmpeg(args...); err != nil {
		fatal("encode: %v", err)
	}

	if *annexB {
		raw := *out + ".h264"
		if err := ffmpeg("-y", "-i", *out, "-c:v", "copy", "-bsf:v", "h264_mp4toannexb", "-f", "h264", raw); err != nil {
			fatal("annex b copy: %v", err)
		}
		fmt.Printf("Annex B copy: %s\n", raw)
	}

	if info, err := os.Stat(*out); err == nil {
		fmt.Printf("Output: %s (%.1f MB)\n", *out, float64(info.Size())/1024/1024)
	}
}

func ffmpeg(args ...string) error {
	cmd := exec.Command("ffmpeg", append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func checkDeps() {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		fatal("ffmpeg not found in PATH")
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
