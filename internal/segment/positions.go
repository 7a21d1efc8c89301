package segment

import (
	"github.com/fsearch/fsearch/internal/codec"
	"github.com/fsearch/fsearch/internal/docmodel"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

// encodePositionsBlock serializes one term's positions block: docCount,
// then for each document (in the same ascending docId order as the
// postings list) its docId (absolute, not delta), its position count, and
// its positions delta-encoded.
func encodePositionsBlock(postings []docmodel.Posting) ([]byte, error) {
	buf := codec.PutUvarint(nil, uint64(len(postings)))
	for _, p := range postings {
		buf = codec.PutUvarint(buf, uint64(p.DocID))
		buf = codec.PutUvarint(buf, uint64(len(p.Positions)))
		positions := make([]uint64, len(p.Positions))
		for i, pos := range p.Positions {
			positions[i] = uint64(pos)
		}
		encoded, err := codec.EncodeDeltaUvarint(nil, positions)
		if err != nil {
			return nil, fserrors.Newf(fserrors.ErrValidation, "doc %d: positions not strictly increasing: %v", p.DocID, err)
		}
		buf = append(buf, encoded...)
	}
	return buf, nil
}

// decodePositionsBlockBulk decodes an entire positions block into a map from
// docId to its ordered positions.
func decodePositionsBlockBulk(buf []byte) (map[uint32][]uint32, int, error) {
	var off int
	docCount, n, err := codec.Uvarint(buf[off:])
	if err != nil {
		return nil, 0, fserrors.Newf(fserrors.ErrFormat, "decoding positions docCount: %v", err)
	}
	off += n

	result := make(map[uint32][]uint32, docCount)
	for i := uint64(0); i < docCount; i++ {
		docID, n, err := codec.Uvarint(buf[off:])
		if err != nil {
			return nil, 0, fserrors.Newf(fserrors.ErrFormat, "decoding positions docId: %v", err)
		}
		off += n
		posCount, n, err := codec.Uvarint(buf[off:])
		if err != nil {
			return nil, 0, fserrors.Newf(fserrors.ErrFormat, "decoding positions posCount: %v", err)
		}
		off += n
		values, n, err := codec.DecodeDeltaUvarint(buf[off:], int(posCount))
		if err != nil {
			return nil, 0, fserrors.Newf(fserrors.ErrFormat, "decoding positions for doc %d: %v", docID, err)
		}
		off += n
		positions := make([]uint32, len(values))
		for i, v := range values {
			positions[i] = uint32(v)
		}
		result[uint32(docID)] = positions
	}
	return result, off, nil
}

// decodePositionsBlockTargeted scans a positions block for a single docId,
// short-circuiting once docIds (ascending) exceed the target.
func decodePositionsBlockTargeted(buf []byte, target uint32) ([]uint32, bool, error) {
	var off int
	docCount, n, err := codec.Uvarint(buf[off:])
	if err != nil {
		return nil, false, fserrors.Newf(fserrors.ErrFormat, "decoding positions docCount: %v", err)
	}
	off += n

	for i := uint64(0); i < docCount; i++ {
		docID, n, err := codec.Uvarint(buf[off:])
		if err != nil {
			return nil, false, fserrors.Newf(fserrors.ErrFormat, "decoding positions docId: %v", err)
		}
		off += n
		posCount, n, err := codec.Uvarint(buf[off:])
		if err != nil {
			return nil, false, fserrors.Newf(fserrors.ErrFormat, "decoding positions posCount: %v", err)
		}
		off += n
		if uint32(docID) > target {
			return nil, false, nil
		}
		values, n, err := codec.DecodeDeltaUvarint(buf[off:], int(posCount))
		if err != nil {
			return nil, false, fserrors.Newf(fserrors.ErrFormat, "decoding positions for doc %d: %v", docID, err)
		}
		off += n
		if uint32(docID) == target {
			positions := make([]uint32, len(values))
			for i, v := range values {
				positions[i] = uint32(v)
			}
			return positions, true, nil
		}
	}
	return nil, false, nil
}
