// Package smfs implements Small-to-Medium storage (SMFS): a size-classed
// freelist allocator for byte sequences of 1..256 bytes, in 8-byte
// granularity slot classes (spec §4.3). lib/phvl uses it for keys and
// values too big to inline but too small to justify lib/bgfs's page
// chains, and for the externally-stored forward-pointer arrays of
// skip-list nodes taller than one level.
//
// Layout:
//
//	offset 0   : magic "SMFS" (4 B)
//	offset 4   : version      (4 B)
//	offset 8   : freeHead[0..30] each u64 (248 B)
//	offset 256 : slot payloads, densely packed by allocation order / reuse
//
// Payload size to slot class: class 0 holds payloads <= 8 (slot size 16);
// above that, idx = (size/8) - 1 - (size%8==0 ? 1 : 0), giving classes
// 0..30 mapped to slot sizes 16, 24, ..., 256. 0 is never a valid SMFS
// offset: the header occupies it.
package smfs
