package codec

import "fmt"

// EncodeDeltaUvarint encodes a strictly monotone non-negative sequence by
// writing the first value then the successive differences, each as a
// varint. The encoder rejects non-monotone input so that a corrupt caller
// cannot silently produce an undecodable file.
func EncodeDeltaUvarint(buf []byte, values []uint64) ([]byte, error) {
	var prev uint64
	for i, v := range values {
		if i > 0 {
			if v <= prev {
				return nil, fmt.Errorf("codec: delta sequence not strictly increasing at index %d (%d <= %d)", i, v, prev)
			}
			buf = PutUvarint(buf, v-prev)
		} else {
			buf = PutUvarint(buf, v)
		}
		prev = v
	}
	return buf, nil
}

// DecodeDeltaUvarint decodes count values previously written by
// EncodeDeltaUvarint, reconstructing the original sequence via prefix sum. It
// returns the decoded values and the number of bytes consumed.
func DecodeDeltaUvarint(buf []byte, count int) ([]uint64, int, error) {
	values := make([]uint64, 0, count)
	var total int
	var prev uint64
	for i := 0; i < count; i++ {
		d, n, err := Uvarint(buf[total:])
		if err != nil {
			return nil, 0, fmt.Errorf("codec: decoding delta entry %d: %w", i, err)
		}
		total += n
		if i == 0 {
			prev = d
		} else {
			prev += d
		}
		values = append(values, prev)
	}
	return values, total, nil
}

// SizeDeltaUvarint returns the exact byte count EncodeDeltaUvarint would
// produce for values, without allocating the encoded buffer.
func SizeDeltaUvarint(values []uint64) (int, error) {
	var size int
	var prev uint64
	for i, v := range values {
		if i > 0 {
			if v <= prev {
				return 0, fmt.Errorf("codec: delta sequence not strictly increasing at index %d (%d <= %d)", i, v, prev)
			}
			size += SizeUvarint(v - prev)
		} else {
			size += SizeUvarint(v)
		}
		prev = v
	}
	return size, nil
}
