package segment

import (
	"github.com/fsearch/fsearch/internal/codec"
	"github.com/fsearch/fsearch/internal/docmodel"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

// encodePostingsList serializes one term's postings list: docCount, skip
// entries every SkipInterval documents, delta-encoded docIds, then raw
// varint term frequencies. postings must already be sorted ascending by
// DocID.
func encodePostingsList(postings []docmodel.Posting) ([]byte, error) {
	var deltaBuf []byte
	var skipEntries []SkipEntry
	var prev uint64
	for i, p := range postings {
		v := uint64(p.DocID)
		if i > 0 {
			if v <= prev {
				return nil, fserrors.Newf(fserrors.ErrValidation, "postings list docIds not strictly increasing at index %d", i)
			}
			deltaBuf = codec.PutUvarint(deltaBuf, v-prev)
		} else {
			deltaBuf = codec.PutUvarint(deltaBuf, v)
		}
		prev = v
		if (i+1)%SkipInterval == 0 {
			skipEntries = append(skipEntries, SkipEntry{
				SkipDocID:               p.DocID,
				SkipOffsetInDeltaRegion: uint32(len(deltaBuf)),
			})
		}
	}

	buf := codec.PutUvarint(nil, uint64(len(postings)))
	buf = codec.PutUvarint(buf, uint64(len(skipEntries)))
	for _, se := range skipEntries {
		entry := make([]byte, 8)
		byteOrder.PutUint32(entry[0:4], se.SkipDocID)
		byteOrder.PutUint32(entry[4:8], se.SkipOffsetInDeltaRegion)
		buf = append(buf, entry...)
	}
	buf = append(buf, deltaBuf...)
	for _, p := range postings {
		buf = codec.PutUvarint(buf, uint64(p.TermFreq))
	}
	return buf, nil
}

// decodePostingsList decodes a postings list starting at the front of buf,
// returning the postings (without positions, which live in the .pos file),
// the skip entries, and the number of bytes consumed.
func decodePostingsList(buf []byte) ([]docmodel.Posting, []SkipEntry, int, error) {
	var off int
	docCount, n, err := codec.Uvarint(buf[off:])
	if err != nil {
		return nil, nil, 0, fserrors.Newf(fserrors.ErrFormat, "decoding postings docCount: %v", err)
	}
	off += n

	skipCount, n, err := codec.Uvarint(buf[off:])
	if err != nil {
		return nil, nil, 0, fserrors.Newf(fserrors.ErrFormat, "decoding postings skipCount: %v", err)
	}
	off += n

	skipEntries := make([]SkipEntry, skipCount)
	for i := range skipEntries {
		if off+8 > len(buf) {
			return nil, nil, 0, fserrors.Newf(fserrors.ErrFormat, "truncated skip region")
		}
		skipEntries[i] = SkipEntry{
			SkipDocID:               byteOrder.Uint32(buf[off : off+4]),
			SkipOffsetInDeltaRegion: byteOrder.Uint32(buf[off+4 : off+8]),
		}
		off += 8
	}

	docIDs, n, err := codec.DecodeDeltaUvarint(buf[off:], int(docCount))
	if err != nil {
		return nil, nil, 0, fserrors.Newf(fserrors.ErrFormat, "decoding postings docIds: %v", err)
	}
	off += n

	postings := make([]docmodel.Posting, docCount)
	for i, id := range docIDs {
		if i > 0 && id <= docIDs[i-1] {
			return nil, nil, 0, fserrors.Newf(fserrors.ErrFormat, "postings docIds not strictly increasing at index %d", i)
		}
		postings[i].DocID = uint32(id)
	}
	for i := range postings {
		tf, n, err := codec.Uvarint(buf[off:])
		if err != nil {
			return nil, nil, 0, fserrors.Newf(fserrors.ErrFormat, "decoding postings termFreq %d: %v", i, err)
		}
		off += n
		postings[i].TermFreq = uint32(tf)
	}

	for i, se := range skipEntries {
		idx := (i+1)*SkipInterval - 1
		if idx >= len(postings) || postings[idx].DocID != se.SkipDocID {
			return nil, nil, 0, fserrors.Newf(fserrors.ErrFormat, "skip entry %d does not match docIds[%d]", i, idx)
		}
	}

	return postings, skipEntries, off, nil
}
