// Package demux scans H.264 Annex B elementary streams. It splits a byte
// stream into NAL units, strips instantaneous-decoder-refresh pictures for
// the no-re-encode datamosh path, and reads picture geometry from sequence
// parameter sets.
//
// The scanner only inspects the one-byte NAL header of each unit. It does not
// remove emulation-prevention bytes from slice payloads, which is not needed
// to recognize or drop whole units.
package demux
