package mosh

import (
	"github.com/JaylenLuc/datamoshing/internal/media"
)

const (
	testWidth  = 16
	testHeight = 64
)

// testFrame builds a frame whose luma row y holds the byte tag+y, so every
// row is distinguishable and every frame carries a recognizable tag.
func testFrame(t media.PictureType, tag byte) *media.Frame {
	f := media.NewYUV420(testWidth, testHeight)
	f.Type = t
	f.Coded = codedFor(t)
	f.Keyframe = t == media.PictureIntra
	f.PTS = -1
	luma := f.Planes[0]
	for y := 0; y < luma.Height; y++ {
		row := luma.Row(y)
		for x := range row {
			row[x] = tag + byte(y)
		}
	}
	for i := 1; i < len(f.Planes); i++ {
		for j := range f.Planes[i].Data {
			f.Planes[i].Data[j] = tag
		}
	}
	return f
}

func codedFor(t media.PictureType) media.CodedPictureType {
	switch t {
	case media.PictureIntra:
		return media.CodedI
	case media.PicturePredicted:
		return media.CodedP
	case media.PictureBidirectional:
		return media.CodedB
	default:
		return media.CodedNone
	}
}

func tagOf(f *media.Frame) byte {
	return f.Planes[1].Data[0]
}

func feed(m *Mosher, frames ...*media.Frame) []*media.Frame {
	var out []*media.Frame
	for _, f := range frames {
		out = append(out, m.Process(f)...)
	}
	return out
}

func pts(frames []*media.Frame) []int64 {
	out := make([]int64, len(frames))
	for i, f := range frames {
		out[i] = f.PTS
	}
	return out
}

func sequence(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}

type recordingObserver struct {
	dropped     map[media.PictureType]int
	synthesized int
	transitions []bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{dropped: make(map[media.PictureType]int)}
}

func (o *recordingObserver) FrameDropped(t media.PictureType) { o.dropped[t]++ }
func (o *recordingObserver) FramesSynthesized(n int)          { o.synthesized += n }
func (o *recordingObserver) Transition(hadReference bool) {
	o.transitions = append(o.transitions, hadReference)
}
