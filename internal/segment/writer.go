package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsearch/fsearch/internal/codec"
	"github.com/fsearch/fsearch/internal/docmodel"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

// TermEntry is one term's complete posting list as handed to the writer by
// a flushing MemSegment. Postings must already be sorted ascending by
// DocID.
type TermEntry struct {
	Term     string
	Postings []docmodel.Posting
}

// Descriptor is the meta.json control file persisted alongside a segment's
// three data files.
type Descriptor struct {
	SegmentID  string    `json:"segmentId"`
	DocCount   uint32    `json:"docCount"`
	TermCount  uint32    `json:"termCount"`
	SizeBytes  int64     `json:"sizeBytes"`
	Status     string    `json:"status"`
	Level      int       `json:"level"`
	CreateTime time.Time `json:"createTime"`
}

const (
	StatusActive   = "ACTIVE"
	StatusMerging  = "MERGING"
	StatusDeleted  = "DELETED"
	DictFileName   = "dict"
	InvFileName    = "inv"
	PosFileName    = "pos"
	MetaFileName   = "meta.json"
	TombstoneFile  = "del"
)

// Writer creates new on-disk segments under a segments root directory.
type Writer struct {
	root string
}

// NewWriter creates a Writer that writes segments as subdirectories of root.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Write atomically creates segment directory "seg-<segmentID>" containing
// dict/inv/pos/meta.json/del. It writes into a temporary sibling directory
// first, fsyncs every file, then renames the directory into place in a
// single filesystem operation.
func (w *Writer) Write(segmentID string, entries []TermEntry, level int) (*Descriptor, error) {
	if len(entries) == 0 {
		return nil, fserrors.New(fserrors.ErrValidation, "cannot write an empty segment")
	}

	finalDir := filepath.Join(w.root, "seg-"+segmentID)
	tmpDir := finalDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "clearing stale temp segment dir: %v", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "creating temp segment dir: %v", err)
	}

	invBuf := writeBodyHeader(MagicInv)
	posBuf := writeBodyHeader(MagicPos)
	dictEntries := make([]DictEntry, 0, len(entries))
	liveDocs := make(map[uint32]struct{})

	for _, entry := range entries {
		postingsOffset := uint64(len(invBuf))
		encodedPostings, err := encodePostingsList(entry.Postings)
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", entry.Term, err)
		}
		invBuf = append(invBuf, encodedPostings...)

		positionsOffset := uint64(len(posBuf))
		encodedPositions, err := encodePositionsBlock(entry.Postings)
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", entry.Term, err)
		}
		posBuf = append(posBuf, encodedPositions...)

		dictEntries = append(dictEntries, DictEntry{
			Term:            entry.Term,
			DocFreq:         uint32(len(entry.Postings)),
			PostingsOffset:  postingsOffset,
			PositionsOffset: positionsOffset,
		})
		for _, p := range entry.Postings {
			liveDocs[p.DocID] = struct{}{}
		}
	}

	dictBuf := writeDictHeader(uint32(len(dictEntries)))
	for _, de := range dictEntries {
		dictBuf = appendVarintString(dictBuf, de.Term)
		dictBuf = appendVarint(dictBuf, uint64(de.DocFreq))
		dictBuf = appendU64(dictBuf, de.PostingsOffset)
		dictBuf = appendU64(dictBuf, de.PositionsOffset)
	}

	dictBuf = appendCRCFooter(dictBuf)
	invBuf = appendCRCFooter(invBuf)
	posBuf = appendCRCFooter(posBuf)

	if err := writeFileSynced(filepath.Join(tmpDir, DictFileName), dictBuf); err != nil {
		return nil, err
	}
	if err := writeFileSynced(filepath.Join(tmpDir, InvFileName), invBuf); err != nil {
		return nil, err
	}
	if err := writeFileSynced(filepath.Join(tmpDir, PosFileName), posBuf); err != nil {
		return nil, err
	}
	if err := writeFileSynced(filepath.Join(tmpDir, TombstoneFile), []byte("[]")); err != nil {
		return nil, err
	}

	desc := &Descriptor{
		SegmentID:  segmentID,
		DocCount:   uint32(len(liveDocs)),
		TermCount:  uint32(len(dictEntries)),
		SizeBytes:  int64(len(dictBuf) + len(invBuf) + len(posBuf)),
		Status:     StatusActive,
		Level:      level,
		CreateTime: time.Now().UTC(),
	}
	metaBytes, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "marshaling segment descriptor: %v", err)
	}
	if err := writeFileSynced(filepath.Join(tmpDir, MetaFileName), metaBytes); err != nil {
		return nil, err
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "renaming segment directory into place: %v", err)
	}
	return desc, nil
}

func writeFileSynced(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fserrors.Newf(fserrors.ErrIO, "creating %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "writing %s: %v", path, err)
	}
	if err := f.Sync(); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "syncing %s: %v", path, err)
	}
	return nil
}

func appendVarint(buf []byte, v uint64) []byte {
	return codec.PutUvarint(buf, v)
}

func appendVarintString(buf []byte, s string) []byte {
	buf = codec.PutUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendU64(buf []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	byteOrder.PutUint64(tmp, v)
	return append(buf, tmp...)
}
