// Package mosh implements the datamoshing frame-stream transform: picture
// classification, the two strategy state machines, the rolling reference
// frame, periodic transition detection, procedural corruption, and output
// timestamp allocation.
//
// The central type is [Mosher]. It is a plain mutable context object owned by
// a single goroutine; feed it decoded frames in input order with
// [Mosher.Process] and forward whatever it returns, in order.
package mosh
