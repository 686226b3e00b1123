package phvl

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/kvexpr/phkv/lib/pherr"
)

// placement thresholds, spec §4.4.
const (
	maxInlineKeyLen   = 16  // inclusive
	maxInlineValueLen = 16  // strict: values up to 15 bytes inline
	maxSMFSLen        = 256 // inclusive
)

// decodedEntry is the fully-resolved, in-memory view of one directory
// entry: its name, and either a child directory offset or a tagged value.
type decodedEntry struct {
	isDir      bool
	name       []byte
	expiration uint64

	// key entries only
	value Value

	// dir entries only
	childHead uint64

	raw rawEntry // retained for freeing external storage on erase/update
}

func (v *Volume) decodeEntry(re rawEntry) (decodedEntry, error) {
	name, err := v.decodeNameSlot(re.inlineKey(), re.keySlot)
	if err != nil {
		return decodedEntry{}, err
	}
	d := decodedEntry{name: name, expiration: re.expiration, raw: re}
	if re.isDir() {
		d.isDir = true
		d.childHead = binary.LittleEndian.Uint64(re.valueSlot[:8])
		return d, nil
	}
	val, err := v.decodeValueSlot(re.valueType(), re.inlineValue(), re.valueSlot)
	if err != nil {
		return decodedEntry{}, err
	}
	d.value = val
	return d, nil
}

func (v *Volume) encodeKeyEntry(name []byte, val Value, expiration uint64) (rawEntry, error) {
	inlineKey, keySlot, err := v.encodeNameSlot(name)
	if err != nil {
		return rawEntry{}, err
	}
	inlineVal, valueSlot, err := v.encodeValueSlot(val)
	if err != nil {
		return rawEntry{}, err
	}
	flag := byte(val.Kind) & flagValueTypeMask
	if inlineKey {
		flag |= flagInlineKey
	}
	if inlineVal {
		flag |= flagInlineValue
	}
	return rawEntry{flag: flag, expiration: expiration, keySlot: keySlot, valueSlot: valueSlot}, nil
}

func (v *Volume) encodeDirEntry(name []byte, childHead uint64) (rawEntry, error) {
	inlineKey, keySlot, err := v.encodeNameSlot(name)
	if err != nil {
		return rawEntry{}, err
	}
	flag := byte(flagIsDir)
	if inlineKey {
		flag |= flagInlineKey
	}
	var valueSlot [valueSlotSize]byte
	binary.LittleEndian.PutUint64(valueSlot[:8], childHead)
	return rawEntry{flag: flag, keySlot: keySlot, valueSlot: valueSlot}, nil
}

// freeEntry releases any SMFS/BGFS storage an entry's name and (for key
// entries) value occupy. It never touches the entry's child directory:
// recursive erasure of a subdirectory is the caller's job.
func (v *Volume) freeEntry(d decodedEntry) error {
	if err := v.freeNameSlot(d.raw.inlineKey(), d.raw.keySlot); err != nil {
		return err
	}
	if !d.isDir {
		if err := v.freeValueSlot(d.raw.valueType(), d.raw.inlineValue(), d.raw.valueSlot); err != nil {
			return err
		}
	}
	return nil
}

// -- name (key) placement --------------------------------------------------

func (v *Volume) encodeNameSlot(name []byte) (inline bool, slot [nameSlotSize]byte, err error) {
	if len(name) <= maxInlineKeyLen {
		copy(slot[:], name) // zero-terminated within the window, spec §4.4
		return true, slot, nil
	}
	off, err := v.allocExternal(name)
	if err != nil {
		return false, slot, err
	}
	binary.LittleEndian.PutUint64(slot[:8], off)
	binary.LittleEndian.PutUint64(slot[8:], uint64(len(name)))
	return false, slot, nil
}

func (v *Volume) decodeNameSlot(inline bool, slot [nameSlotSize]byte) ([]byte, error) {
	if inline {
		if idx := bytes.IndexByte(slot[:], 0); idx >= 0 {
			out := make([]byte, idx)
			copy(out, slot[:idx])
			return out, nil
		}
		out := make([]byte, nameSlotSize)
		copy(out, slot[:])
		return out, nil
	}
	off, length := binary.LittleEndian.Uint64(slot[:8]), binary.LittleEndian.Uint64(slot[8:])
	return v.readExternal(off, int(length))
}

func (v *Volume) freeNameSlot(inline bool, slot [nameSlotSize]byte) error {
	if inline {
		return nil
	}
	off, length := binary.LittleEndian.Uint64(slot[:8]), binary.LittleEndian.Uint64(slot[8:])
	return v.freeExternal(off, int(length))
}

// -- value placement --------------------------------------------------------

func (v *Volume) encodeValueSlot(val Value) (inline bool, slot [valueSlotSize]byte, err error) {
	switch val.Kind {
	case KindU8, KindU16, KindU32, KindU64, KindF32, KindF64:
		encodeScalar(val, slot[:])
		return true, slot, nil
	case KindString, KindBytes:
		payload := valuePayload(val)
		if len(payload) < maxInlineValueLen {
			slot[0] = byte(len(payload))
			copy(slot[1:], payload)
			return true, slot, nil
		}
		off, err := v.allocExternal(payload)
		if err != nil {
			return false, slot, err
		}
		binary.LittleEndian.PutUint64(slot[:8], off)
		binary.LittleEndian.PutUint64(slot[8:], uint64(len(payload)))
		return false, slot, nil
	default:
		return false, slot, pherr.Newf(pherr.InvalidFile, "phvl: unknown value kind %d", val.Kind)
	}
}

func (v *Volume) decodeValueSlot(kind ValueKind, inline bool, slot [valueSlotSize]byte) (Value, error) {
	switch kind {
	case KindU8, KindU16, KindU32, KindU64, KindF32, KindF64:
		return decodeScalar(kind, slot[:]), nil
	case KindString, KindBytes:
		if inline {
			n := int(slot[0])
			payload := slot[1 : 1+n]
			if kind == KindString {
				return NewString(string(payload)), nil
			}
			return NewBytes(payload), nil
		}
		off, length := binary.LittleEndian.Uint64(slot[:8]), binary.LittleEndian.Uint64(slot[8:])
		payload, err := v.readExternal(off, int(length))
		if err != nil {
			return Value{}, err
		}
		if kind == KindString {
			return NewString(string(payload)), nil
		}
		return NewBytes(payload), nil
	default:
		return Value{}, pherr.Newf(pherr.CorruptData, "phvl: unknown value kind %d", kind)
	}
}

func (v *Volume) freeValueSlot(kind ValueKind, inline bool, slot [valueSlotSize]byte) error {
	if inline {
		return nil
	}
	switch kind {
	case KindString, KindBytes:
		off, length := binary.LittleEndian.Uint64(slot[:8]), binary.LittleEndian.Uint64(slot[8:])
		return v.freeExternal(off, int(length))
	default:
		return nil
	}
}

// updateValueSlot replaces the value of an existing entry, reusing external
// storage in place when the placement class (inline/SMFS/BGFS) is
// unchanged, per spec §4.4's overwrite rule.
func (v *Volume) updateValueSlot(old rawEntry, newVal Value) (flag byte, slot [valueSlotSize]byte, err error) {
	oldKind := old.valueType()
	oldInline := old.inlineValue()
	oldClass := placementClass(oldInline, oldSlotLen(oldKind, oldInline, old.valueSlot))

	switch newVal.Kind {
	case KindU8, KindU16, KindU32, KindU64, KindF32, KindF64:
		if err := v.freeValueSlot(oldKind, oldInline, old.valueSlot); err != nil {
			return 0, slot, err
		}
		encodeScalar(newVal, slot[:])
		return byte(newVal.Kind) | flagInlineValue, slot, nil
	}

	payload := valuePayload(newVal)
	newClass := placementClass(len(payload) < maxInlineValueLen, len(payload))

	if newClass == classInline {
		if err := v.freeValueSlot(oldKind, oldInline, old.valueSlot); err != nil {
			return 0, slot, err
		}
		slot[0] = byte(len(payload))
		copy(slot[1:], payload)
		return byte(newVal.Kind) | flagInlineValue, slot, nil
	}

	if oldClass == newClass && !oldInline {
		off, length := binary.LittleEndian.Uint64(old.valueSlot[:8]), binary.LittleEndian.Uint64(old.valueSlot[8:])
		newOff, err := v.overwriteExternal(off, int(length), payload)
		if err != nil {
			return 0, slot, err
		}
		binary.LittleEndian.PutUint64(slot[:8], newOff)
		binary.LittleEndian.PutUint64(slot[8:], uint64(len(payload)))
		return byte(newVal.Kind), slot, nil
	}

	if err := v.freeValueSlot(oldKind, oldInline, old.valueSlot); err != nil {
		return 0, slot, err
	}
	off, err := v.allocExternal(payload)
	if err != nil {
		return 0, slot, err
	}
	binary.LittleEndian.PutUint64(slot[:8], off)
	binary.LittleEndian.PutUint64(slot[8:], uint64(len(payload)))
	return byte(newVal.Kind), slot, nil
}

type placementKind int

const (
	classInline placementKind = iota
	classSMFS
	classBGFS
)

func placementClass(inline bool, length int) placementKind {
	if inline {
		return classInline
	}
	if length <= maxSMFSLen {
		return classSMFS
	}
	return classBGFS
}

func oldSlotLen(kind ValueKind, inline bool, slot [valueSlotSize]byte) int {
	if inline {
		if kind == KindString || kind == KindBytes {
			return int(slot[0])
		}
		return 0
	}
	return int(binary.LittleEndian.Uint64(slot[8:]))
}

func valuePayload(v Value) []byte {
	if v.Kind == KindString {
		return []byte(v.String())
	}
	return v.Bytes()
}

func encodeScalar(v Value, dst []byte) {
	for i := range dst {
		dst[i] = 0
	}
	switch v.Kind {
	case KindU8:
		dst[0] = v.U8()
	case KindU16:
		binary.LittleEndian.PutUint16(dst, v.U16())
	case KindU32:
		binary.LittleEndian.PutUint32(dst, v.U32())
	case KindU64:
		binary.LittleEndian.PutUint64(dst, v.U64())
	case KindF32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v.F32()))
	case KindF64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v.F64()))
	}
}

func decodeScalar(kind ValueKind, src []byte) Value {
	switch kind {
	case KindU8:
		return NewU8(src[0])
	case KindU16:
		return NewU16(binary.LittleEndian.Uint16(src))
	case KindU32:
		return NewU32(binary.LittleEndian.Uint32(src))
	case KindU64:
		return NewU64(binary.LittleEndian.Uint64(src))
	case KindF32:
		return NewF32(math.Float32frombits(binary.LittleEndian.Uint32(src)))
	case KindF64:
		return NewF64(math.Float64frombits(binary.LittleEndian.Uint64(src)))
	}
	return Value{}
}
