// Package bgfs implements BigFile storage (BGFS): a page-chained allocator
// for byte sequences of arbitrary length, used by lib/phvl to store keys and
// values too large for lib/smfs (spec §4.2).
//
// Layout:
//
//	offset 0     : magic "BGFS"         (4 B)
//	offset 4     : version {u16 major, u16 minor} = {1,0}
//	offset 8     : firstFreePage (u64)
//	offset 16... : reserved, padded to 512
//	offset 512...: page stream
//
// Every page is 512 bytes: an 8-byte little-endian absolute offset of the
// next page (0 = terminator) followed by 504 bytes of payload. The file
// size is always a multiple of 512. Freed chains are threaded onto
// firstFreePage and reused LIFO by subsequent allocations.
package bgfs
