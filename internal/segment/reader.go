package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsearch/fsearch/internal/codec"
	"github.com/fsearch/fsearch/internal/docmodel"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

// Reader provides read-only, CRC-verified access to one on-disk segment
// directory. The dictionary is loaded into an ordered slice at open; the
// postings and positions files are read into memory in full (segments are
// workstation-scale, bounded by the flush thresholds) and decoded on
// demand by absolute offset.
type Reader struct {
	dir  string
	meta Descriptor
	dict []DictEntry
	inv  []byte
	pos  []byte
}

// Open opens a segment directory, verifies the CRC-32 footer of all three
// data files, and loads the dictionary into memory.
func Open(dir string) (*Reader, error) {
	metaBytes, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "reading segment meta: %v", err)
	}
	var meta Descriptor
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fserrors.Newf(fserrors.ErrFormat, "parsing segment meta: %v", err)
	}

	dictData, err := os.ReadFile(filepath.Join(dir, DictFileName))
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "reading dictionary file: %v", err)
	}
	if err := verifyCRC(dictData, "dict"); err != nil {
		return nil, err
	}
	dict, err := parseDictionary(dictData)
	if err != nil {
		return nil, err
	}

	invData, err := os.ReadFile(filepath.Join(dir, InvFileName))
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "reading postings file: %v", err)
	}
	if err := verifyCRC(invData, "inv"); err != nil {
		return nil, err
	}
	if _, err := parseMagic(invData, MagicInv, "inv"); err != nil {
		return nil, err
	}

	posData, err := os.ReadFile(filepath.Join(dir, PosFileName))
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "reading positions file: %v", err)
	}
	if err := verifyCRC(posData, "pos"); err != nil {
		return nil, err
	}
	if _, err := parseMagic(posData, MagicPos, "pos"); err != nil {
		return nil, err
	}

	return &Reader{dir: dir, meta: meta, dict: dict, inv: invData, pos: posData}, nil
}

func parseDictionary(data []byte) ([]DictEntry, error) {
	if _, err := parseMagic(data, MagicDict, "dict"); err != nil {
		return nil, err
	}
	termCount := byteOrder.Uint32(data[6:10])
	off := dictHeaderSize
	body := data[:len(data)-footerSize]
	entries := make([]DictEntry, 0, termCount)
	var prevTerm string
	for i := uint32(0); i < termCount; i++ {
		termLen, n, err := codec.Uvarint(body[off:])
		if err != nil {
			return nil, fserrors.Newf(fserrors.ErrFormat, "dict entry %d: decoding term length: %v", i, err)
		}
		off += n
		if off+int(termLen) > len(body) {
			return nil, fserrors.Newf(fserrors.ErrFormat, "dict entry %d: term bytes exceed file", i)
		}
		term := string(body[off : off+int(termLen)])
		off += int(termLen)
		if i > 0 && term <= prevTerm {
			return nil, fserrors.Newf(fserrors.ErrFormat, "dict entry %d: terms not strictly ascending (%q <= %q)", i, term, prevTerm)
		}
		prevTerm = term

		docFreq, n, err := codec.Uvarint(body[off:])
		if err != nil {
			return nil, fserrors.Newf(fserrors.ErrFormat, "dict entry %d: decoding docFreq: %v", i, err)
		}
		off += n

		if off+16 > len(body) {
			return nil, fserrors.Newf(fserrors.ErrFormat, "dict entry %d: truncated offsets", i)
		}
		postingsOffset := byteOrder.Uint64(body[off : off+8])
		positionsOffset := byteOrder.Uint64(body[off+8 : off+16])
		off += 16

		entries = append(entries, DictEntry{
			Term:            term,
			DocFreq:         uint32(docFreq),
			PostingsOffset:  postingsOffset,
			PositionsOffset: positionsOffset,
		})
	}
	if uint32(len(entries)) != termCount {
		return nil, fserrors.Newf(fserrors.ErrFormat, "dictionary termCount header (%d) does not match entry count (%d)", termCount, len(entries))
	}
	return entries, nil
}

// Find returns the dictionary entry for term, or false if absent.
func (r *Reader) Find(term string) (DictEntry, bool) {
	idx := sort.Search(len(r.dict), func(i int) bool { return r.dict[i].Term >= term })
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return r.dict[idx], true
}

// PrefixRange returns all dictionary entries whose term starts with prefix,
// via a lex range scan over the sorted dictionary.
func (r *Reader) PrefixRange(prefix string) []DictEntry {
	lo := sort.Search(len(r.dict), func(i int) bool { return r.dict[i].Term >= prefix })
	var out []DictEntry
	for i := lo; i < len(r.dict) && len(r.dict[i].Term) >= len(prefix) && r.dict[i].Term[:len(prefix)] == prefix; i++ {
		out = append(out, r.dict[i])
	}
	return out
}

// Postings decodes the postings list for a dictionary entry.
func (r *Reader) Postings(entry DictEntry) ([]docmodel.Posting, error) {
	if int(entry.PostingsOffset) >= len(r.inv) {
		return nil, fserrors.Newf(fserrors.ErrFormat, "term %q: postings offset %d out of range", entry.Term, entry.PostingsOffset)
	}
	postings, _, _, err := decodePostingsList(r.inv[entry.PostingsOffset:])
	if err != nil {
		return nil, fmt.Errorf("term %q: %w", entry.Term, err)
	}
	return postings, nil
}

// PositionsBulk decodes the entire positions block for a dictionary entry,
// returning a map from docId to its ordered positions.
func (r *Reader) PositionsBulk(entry DictEntry) (map[uint32][]uint32, error) {
	if int(entry.PositionsOffset) >= len(r.pos) {
		return nil, fserrors.Newf(fserrors.ErrFormat, "term %q: positions offset %d out of range", entry.Term, entry.PositionsOffset)
	}
	result, _, err := decodePositionsBlockBulk(r.pos[entry.PositionsOffset:])
	if err != nil {
		return nil, fmt.Errorf("term %q: %w", entry.Term, err)
	}
	return result, nil
}

// PositionsForDoc performs a targeted scan of a term's positions block for
// a single docId, short-circuiting once the block's ascending docIds pass
// the target.
func (r *Reader) PositionsForDoc(entry DictEntry, docID uint32) ([]uint32, bool, error) {
	if int(entry.PositionsOffset) >= len(r.pos) {
		return nil, false, fserrors.Newf(fserrors.ErrFormat, "term %q: positions offset %d out of range", entry.Term, entry.PositionsOffset)
	}
	return decodePositionsBlockTargeted(r.pos[entry.PositionsOffset:], docID)
}

// Terms returns the number of unique terms in this segment.
func (r *Reader) Terms() int { return len(r.dict) }

// DocCount returns the number of live documents recorded when this segment
// was written (before any subsequent tombstoning).
func (r *Reader) DocCount() uint32 { return r.meta.DocCount }

// Meta returns the segment's descriptor.
func (r *Reader) Meta() Descriptor { return r.meta }

// Dir returns the segment's directory path.
func (r *Reader) Dir() string { return r.dir }

// AllTerms returns every dictionary entry, in ascending term order.
func (r *Reader) AllTerms() []DictEntry { return r.dict }

// LiveDocIDs scans every term's postings list and returns the set of
// distinct docIds present in this segment, used by the index manager to
// track which segment currently holds a given document.
func (r *Reader) LiveDocIDs() (map[uint32]struct{}, error) {
	ids := make(map[uint32]struct{})
	for _, entry := range r.dict {
		postings, err := r.Postings(entry)
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			ids[p.DocID] = struct{}{}
		}
	}
	return ids, nil
}
