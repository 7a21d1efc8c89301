package wal

import (
	"hash/crc32"
	"time"

	"github.com/fsearch/fsearch/internal/codec"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

// Op identifies the kind of mutation a WAL record describes.
type Op uint8

const (
	OpAdd    Op = 1
	OpDelete Op = 2
	OpUpdate Op = 3
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "ADD"
	case OpDelete:
		return "DELETE"
	case OpUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Record is one intended mutation: op, timestamp, the source path, and the
// mtime/size observed at discovery time (used at replay to detect whether
// the mutation's effect is already present).
type Record struct {
	Op        Op
	Timestamp time.Time
	Path      string
	Mtime     time.Time
	Size      int64
}

// encode serializes a record as
// op(1) | timestamp(i64 ms) | pathLen(varint) | pathBytes | mtime(i64 ms) | size(i64),
// then frames it with a u32 length prefix and a trailing CRC-32 over the
// payload so a torn write at the tail of the log is detectable and
// truncatable at replay.
func encode(r Record) []byte {
	payload := make([]byte, 0, 32+len(r.Path))
	payload = append(payload, byte(r.Op))
	payload = appendI64(payload, r.Timestamp.UnixMilli())
	payload = codec.PutUvarint(payload, uint64(len(r.Path)))
	payload = append(payload, r.Path...)
	payload = appendI64(payload, r.Mtime.UnixMilli())
	payload = appendI64(payload, r.Size)

	framed := make([]byte, 0, 4+len(payload)+4)
	framed = appendU32(framed, uint32(len(payload)))
	framed = append(framed, payload...)
	crc := crc32.ChecksumIEEE(payload)
	framed = appendU32(framed, crc)
	return framed
}

// decodeOne reads one framed record starting at buf[0], returning the
// record, the number of bytes consumed, and an error if the frame is
// truncated or its CRC does not match (a torn tail write from a crash
// mid-append).
func decodeOne(buf []byte) (Record, int, error) {
	if len(buf) < 4 {
		return Record{}, 0, errShortFrame
	}
	payloadLen := byteOrderU32(buf[0:4])
	total := 4 + int(payloadLen) + 4
	if len(buf) < total {
		return Record{}, 0, errShortFrame
	}
	payload := buf[4 : 4+payloadLen]
	wantCRC := byteOrderU32(buf[4+payloadLen : total])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return Record{}, 0, fserrors.New(fserrors.ErrFormat, "wal record CRC mismatch")
	}

	off := 0
	if len(payload) < 1 {
		return Record{}, 0, fserrors.New(fserrors.ErrFormat, "wal record: missing op byte")
	}
	op := Op(payload[off])
	off++

	ts, n, err := readI64(payload[off:])
	if err != nil {
		return Record{}, 0, err
	}
	off += n

	pathLen, n, err := codec.Uvarint(payload[off:])
	if err != nil {
		return Record{}, 0, fserrors.Newf(fserrors.ErrFormat, "wal record: decoding pathLen: %v", err)
	}
	off += n
	if off+int(pathLen) > len(payload) {
		return Record{}, 0, fserrors.New(fserrors.ErrFormat, "wal record: path bytes exceed payload")
	}
	path := string(payload[off : off+int(pathLen)])
	off += int(pathLen)

	mtime, n, err := readI64(payload[off:])
	if err != nil {
		return Record{}, 0, err
	}
	off += n

	size, _, err := readI64(payload[off:])
	if err != nil {
		return Record{}, 0, err
	}

	return Record{
		Op:        op,
		Timestamp: time.UnixMilli(ts).UTC(),
		Path:      path,
		Mtime:     time.UnixMilli(mtime).UTC(),
		Size:      size,
	}, total, nil
}

var errShortFrame = fserrors.New(fserrors.ErrFormat, "wal: short frame (truncated tail)")

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func byteOrderU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func appendI64(buf []byte, v int64) []byte {
	u := uint64(v)
	return append(buf,
		byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

func readI64(buf []byte) (int64, int, error) {
	if len(buf) < 8 {
		return 0, 0, fserrors.New(fserrors.ErrFormat, "wal record: truncated i64 field")
	}
	u := uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
		uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])
	return int64(u), 8, nil
}
