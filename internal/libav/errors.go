package libav

import "errors"

// Setup and decode failures, one per stage. Callers map them to exit
// statuses with errors.Is.
var (
	ErrCannotOpen    = errors.New("libav: cannot open input")
	ErrNoStreamInfo  = errors.New("libav: cannot find stream info")
	ErrNoVideoStream = errors.New("libav: no video stream")
	ErrDecoderOpen   = errors.New("libav: cannot open decoder")
	ErrDecodeFailed  = errors.New("libav: decode failed")
	ErrEncoderOpen   = errors.New("libav: cannot open encoder")
	ErrWriteHeader   = errors.New("libav: cannot write container header")
)
