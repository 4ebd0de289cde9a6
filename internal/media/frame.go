// Package media defines the frame types that flow through the datamosh
// pipeline, from the picture source through the encode sink.
package media

import "fmt"

// PictureType is the semantic type the pipeline assigns to a decoded picture.
type PictureType int

const (
	PictureUnspecified PictureType = iota
	PictureIntra
	PicturePredicted
	PictureBidirectional
)

func (t PictureType) String() string {
	switch t {
	case PictureIntra:
		return "I"
	case PicturePredicted:
		return "P"
	case PictureBidirectional:
		return "B"
	default:
		return "?"
	}
}

// CodedPictureType is the raw picture type code reported by the decoder, in
// FFmpeg AVPictureType order. CodedNone means the decoder supplied no type.
type CodedPictureType uint8

const (
	CodedNone CodedPictureType = iota
	CodedI
	CodedP
	CodedB
	CodedS
	CodedSI
	CodedSP
	CodedBI
)

// Plane is one row-major image plane. Stride is the number of bytes between
// the starts of consecutive rows and is never smaller than Width.
type Plane struct {
	Data   []byte
	Width  int
	Height int
	Stride int
}

// Row returns the full-stride bytes of row y.
func (p Plane) Row(y int) []byte {
	off := y * p.Stride
	return p.Data[off : off+p.Stride]
}

// Frame is a single decoded picture. A Frame is owned by exactly one stage
// at a time; stages that need to keep a frame after handing it on must Clone.
type Frame struct {
	Planes   []Plane
	Width    int
	Height   int
	Type     PictureType
	Coded    CodedPictureType
	PTS      int64
	Keyframe bool
}

// NewYUV420 allocates a tightly packed 4:2:0 frame.
func NewYUV420(width, height int) *Frame {
	cw, ch := (width+1)/2, (height+1)/2
	return &Frame{
		Width:  width,
		Height: height,
		Planes: []Plane{
			{Data: make([]byte, width*height), Width: width, Height: height, Stride: width},
			{Data: make([]byte, cw*ch), Width: cw, Height: ch, Stride: cw},
			{Data: make([]byte, cw*ch), Width: cw, Height: ch, Stride: cw},
		},
	}
}

// FrameFromBytes splits a tightly packed 4:2:0 buffer (Y, then U, then V)
// into a new frame. The buffer is copied.
func FrameFromBytes(width, height int, buf []byte) (*Frame, error) {
	f := NewYUV420(width, height)
	want := 0
	for _, p := range f.Planes {
		want += len(p.Data)
	}
	if len(buf) < want {
		return nil, fmt.Errorf("media: yuv420 %dx%d needs %d bytes, got %d", width, height, want, len(buf))
	}
	off := 0
	for _, p := range f.Planes {
		off += copy(p.Data, buf[off:off+len(p.Data)])
	}
	return f, nil
}

// Clone returns a deep copy of f. The copy shares no pixel storage with f.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Planes = make([]Plane, len(f.Planes))
	for i, p := range f.Planes {
		c.Planes[i] = p
		if p.Data != nil {
			c.Planes[i].Data = append([]byte(nil), p.Data...)
		}
	}
	return &c
}

// Bytes packs every plane into one buffer, dropping stride padding.
func (f *Frame) Bytes() []byte {
	n := 0
	for _, p := range f.Planes {
		n += p.Width * p.Height
	}
	out := make([]byte, 0, n)
	for _, p := range f.Planes {
		if p.Stride <= 0 || p.Data == nil {
			continue
		}
		for y := 0; y < p.Height; y++ {
			out = append(out, p.Row(y)[:p.Width]...)
		}
	}
	return out
}

// Packet summarizes an encoded packet after the encode sink wrote it.
type Packet struct {
	PTS      int64
	DTS      int64
	Size     int
	Keyframe bool
}
