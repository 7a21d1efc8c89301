// Package codec implements the variable-length integer and delta encodings
// used by the on-disk segment format. Integers are encoded as a sequence of
// 7-bit groups, least-significant group first, with bit 7 of each byte acting
// as a continuation flag.
package codec

import "fmt"

const (
	// MaxVarint32Bytes is the widest a varint-encoded uint32 can be.
	MaxVarint32Bytes = 5
	// MaxVarint64Bytes is the widest a varint-encoded uint64 can be.
	MaxVarint64Bytes = 10
)

const continuationBit = 0x80

// PutUvarint appends the varint encoding of v to buf and returns the
// extended slice.
func PutUvarint(buf []byte, v uint64) []byte {
	for v >= continuationBit {
		buf = append(buf, byte(v)|continuationBit)
		v >>= 7
	}
	return append(buf, byte(v))
}

// SizeUvarint returns the exact number of bytes PutUvarint would produce for
// v. It never allocates.
func SizeUvarint(v uint64) int {
	n := 1
	for v >= continuationBit {
		v >>= 7
		n++
	}
	return n
}

// Uvarint decodes a varint from the front of buf, returning the value and the
// number of bytes consumed. It returns an error if the terminator byte does
// not arrive within MaxVarint64Bytes.
func Uvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		if i >= MaxVarint64Bytes {
			return 0, 0, fmt.Errorf("codec: varint exceeds %d-byte width budget", MaxVarint64Bytes)
		}
		b := buf[i]
		v |= uint64(b&^continuationBit) << shift
		if b&continuationBit == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("codec: truncated varint, terminator byte never arrived")
}

// PutUvarint32 appends the varint encoding of a uint32.
func PutUvarint32(buf []byte, v uint32) []byte {
	return PutUvarint(buf, uint64(v))
}

// Uvarint32 decodes a uint32-width varint, rejecting values that overflow 32
// bits.
func Uvarint32(buf []byte) (uint32, int, error) {
	v, n, err := Uvarint(buf)
	if err != nil {
		return 0, 0, err
	}
	if v > uint64(^uint32(0)) {
		return 0, 0, fmt.Errorf("codec: varint value %d overflows uint32", v)
	}
	return uint32(v), n, nil
}
