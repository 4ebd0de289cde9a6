package mosh

import "github.com/JaylenLuc/datamoshing/internal/media"

const (
	streakBand        = 10
	displaceThreshold = 5
	displaceStep      = 2
)

// Corrupt returns a corrupted copy of ref for the given repeat index. The
// result is a function of (ref, repeat) only and ref is never modified.
//
// Only the primary (luma) plane is touched. Rows in the band
// [repeat*10, (repeat+1)*10), excluding the first and last row of the
// picture, are overwritten from the row above; since the pass runs top down
// the whole band freezes to the row just above it. For repeat > 5 every row
// in [shift, height-shift) is then overwritten with the row shift lines
// above it, shift = (repeat-5)*2, again top down so the shift compounds.
func Corrupt(ref *media.Frame, repeat int) *media.Frame {
	out := ref.Clone()
	if out == nil || len(out.Planes) == 0 {
		return out
	}
	p := out.Planes[0]
	if p.Data == nil || p.Stride <= 0 {
		return out
	}
	height := p.Height
	if rows := len(p.Data) / p.Stride; rows < height {
		height = rows
	}

	lo := max(repeat*streakBand, 1)
	hi := min((repeat+1)*streakBand, height-1)
	for y := lo; y < hi; y++ {
		copy(p.Row(y), p.Row(y-1))
	}

	if repeat > displaceThreshold {
		shift := (repeat - displaceThreshold) * displaceStep
		for y := shift; y < height-shift; y++ {
			copy(p.Row(y), p.Row(y-shift))
		}
	}
	return out
}
