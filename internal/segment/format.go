// Package segment implements the three-file on-disk segment format
// (dictionary, postings, positions) described by the index's persistence
// layer: a dictionary sorted by term with fixed-width offsets into the
// postings and positions files, skip-list-accelerated postings lists, and a
// CRC-32 footer on every file covering all preceding bytes.
package segment

import (
	"encoding/binary"
	"hash/crc32"

	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

const (
	MagicDict uint32 = 0x4C534449
	MagicInv  uint32 = 0x4C535049
	MagicPos  uint32 = 0x4C535053

	FormatVersion uint16 = 1

	// SkipInterval is the number of documents between consecutive skip
	// entries in a postings list.
	SkipInterval = 128

	dictHeaderSize = 4 + 2 + 4 // magic, version, termCount
	invHeaderSize  = 4 + 2     // magic, version
	posHeaderSize  = 4 + 2     // magic, version
	footerSize     = 4         // CRC-32
)

var byteOrder = binary.BigEndian

// writeDictHeader serializes a dictionary header.
func writeDictHeader(termCount uint32) []byte {
	buf := make([]byte, dictHeaderSize)
	byteOrder.PutUint32(buf[0:4], MagicDict)
	byteOrder.PutUint16(buf[4:6], FormatVersion)
	byteOrder.PutUint32(buf[6:10], termCount)
	return buf
}

func writeBodyHeader(magic uint32) []byte {
	buf := make([]byte, invHeaderSize)
	byteOrder.PutUint32(buf[0:4], magic)
	byteOrder.PutUint16(buf[4:6], FormatVersion)
	return buf
}

// verifyCRC checks that data's trailing 4 bytes equal the big-endian
// CRC-32 of everything preceding them.
func verifyCRC(data []byte, fileKind string) error {
	if len(data) < footerSize {
		return fserrors.Newf(fserrors.ErrFormat, "%s: file shorter than footer (%d bytes)", fileKind, len(data))
	}
	body := data[:len(data)-footerSize]
	want := byteOrder.Uint32(data[len(data)-footerSize:])
	got := crc32.ChecksumIEEE(body)
	if want != got {
		return fserrors.Newf(fserrors.ErrFormat, "%s: CRC mismatch (want %08x, got %08x)", fileKind, want, got)
	}
	return nil
}

// appendCRCFooter computes the CRC-32 of buf and appends it as a 4-byte
// big-endian footer.
func appendCRCFooter(buf []byte) []byte {
	sum := crc32.ChecksumIEEE(buf)
	footer := make([]byte, footerSize)
	byteOrder.PutUint32(footer, sum)
	return append(buf, footer...)
}

func parseMagic(data []byte, want uint32, fileKind string) (version uint16, err error) {
	if len(data) < 6 {
		return 0, fserrors.Newf(fserrors.ErrFormat, "%s: truncated header", fileKind)
	}
	magic := byteOrder.Uint32(data[0:4])
	if magic != want {
		return 0, fserrors.Newf(fserrors.ErrFormat, "%s: bad magic bytes %08x, want %08x", fileKind, magic, want)
	}
	version = byteOrder.Uint16(data[4:6])
	if version != FormatVersion {
		return 0, fserrors.Newf(fserrors.ErrFormat, "%s: unsupported format version %d", fileKind, version)
	}
	return version, nil
}

// DictEntry is one dictionary row: a term and the locations of its postings
// and positions blocks.
type DictEntry struct {
	Term            string
	DocFreq         uint32
	PostingsOffset  uint64
	PositionsOffset uint64
}

// SkipEntry is one skip-list checkpoint within an encoded postings list.
type SkipEntry struct {
	SkipDocID             uint32
	SkipOffsetInDeltaRegion uint32
}
