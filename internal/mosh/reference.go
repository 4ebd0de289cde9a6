package mosh

import (
	"log/slog"

	"github.com/JaylenLuc/datamoshing/internal/media"
)

// referenceCache holds the most recent accepted predicted frame. It never
// holds an intra or bidirectional frame.
type referenceCache struct {
	log   *slog.Logger
	frame *media.Frame
}

// store replaces the cached frame with f, which the cache now owns.
func (c *referenceCache) store(f *media.Frame) {
	if f == nil {
		return
	}
	if f.Type == media.PictureIntra || f.Type == media.PictureBidirectional {
		c.log.Debug("refusing to cache non-predicted frame", "type", f.Type.String())
		return
	}
	c.frame = f
}

// load returns the cached frame, or nil. The cache keeps ownership.
func (c *referenceCache) load() *media.Frame {
	return c.frame
}

func (c *referenceCache) release() {
	c.frame = nil
}
