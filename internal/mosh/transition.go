package mosh

// transitionDetector counts every picture read from the source and raises a
// one-shot pending flag on each multiple of period. A zero period never fires.
type transitionDetector struct {
	period  int64
	ordinal int64
	pending bool
}

// observe advances the ordinal for one picture and returns it.
func (d *transitionDetector) observe() int64 {
	d.ordinal++
	if d.period > 0 && d.ordinal%d.period == 0 {
		d.pending = true
	}
	return d.ordinal
}

// consume reports whether a transition was pending and clears it.
func (d *transitionDetector) consume() bool {
	if !d.pending {
		return false
	}
	d.pending = false
	return true
}
