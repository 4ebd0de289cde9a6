// Package libav adapts FFmpeg, through go-astiav, to the pipeline's Source
// and Sink contracts. It also provides the raw path's Annex B extractor and
// remuxer.
//
// Everything here requires the FFmpeg shared libraries at build and run time.
// The option translation and picture type mapping are plain functions and can
// be tested on their own.
package libav
