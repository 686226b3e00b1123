// Package bincodec provides two thin, bounds-checked views over a byte
// slice: Reader for little-endian fixed-width decoding and Writer for
// little-endian fixed-width encoding. Every on-disk record in lib/bgfs,
// lib/smfs and lib/phvl is read and written through these cursors so the
// byte layout in each format's doc comment is the single source of truth.
//
// Both cursors fail with a *pherr.Error of kind pherr.OutOfRange the moment
// an operation would read or write past the end of the backing slice; there
// are no partial reads or writes.
package bincodec
