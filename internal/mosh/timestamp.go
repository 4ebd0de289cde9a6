package mosh

// Timestamps hands out the output presentation timestamps: 0 on the first
// call, then strictly increasing by one.
type Timestamps struct {
	next int64
}

// Next returns the next unused timestamp.
func (t *Timestamps) Next() int64 {
	v := t.next
	t.next++
	return v
}

// Issued returns how many timestamps have been handed out.
func (t *Timestamps) Issued() int64 {
	return t.next
}
