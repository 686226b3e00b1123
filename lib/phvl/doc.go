// Package phvl implements the Volume engine (PHVL): the per-mount
// hierarchical directory structure built on top of lib/bgfs and lib/smfs.
// A volume is a triplet of files sharing a base name:
//
//	<name>.phkvsmain  the PHVL main file: header + skip-list node pool
//	<name>.phkvsstm   an SMFS file for small key/value payloads and
//	                  externally-stored forward-pointer arrays
//	<name>.phkvsbig   a BGFS file for large key/value payloads
//
// The main file's header is:
//
//	offset 0  : magic "PHVL" (4 B)
//	offset 4  : version (4 B)
//	offset 8  : firstFreeHeadListNode (u64)
//	offset 16 : firstFreeListNode (u64)
//	offset 24 : ROOT skip-list head node
//	offset 690: further head/body node allocations (freelist-managed)
//
// Head and body nodes both occupy a fixed 666-byte allocation unit; a head
// node only ever uses the first 9 bytes of it (spec §4.4 describes the head
// node as "stored as the prefix of a full body-node slot in practice").
// Two independent freelists track these allocations so the pools don't
// intermix, even though the slot size is shared. The 512-byte alignment
// mentioned in an earlier layout sketch is not enforced: §4.4's own
// allocation-size arithmetic says node records impose "no specific
// alignment...beyond contiguous writes", which is what this package does.
//
// A body node holds up to 16 sorted entries, each naming either a
// subdirectory (pointing at that subdirectory's own head node) or a key
// (carrying a tagged Value). Entry names of up to 16 bytes and string/bytes
// values under 16 bytes are stored inline; longer payloads of up to 256
// bytes go to SMFS, bigger ones to BGFS.
package phvl
