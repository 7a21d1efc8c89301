// Package docmodel defines the shared data types passed between the
// tokenizer, in-memory segment, index manager, and DocStore: Document, Token,
// and DocType.
package docmodel

import "time"

// DocType classifies a document by its inferred content kind.
type DocType string

const (
	TypeCode   DocType = "CODE"
	TypeNote   DocType = "NOTE"
	TypeDoc    DocType = "DOC"
	TypeData   DocType = "DATA"
	TypeConfig DocType = "CONFIG"
	TypeOther  DocType = "OTHER"
)

// Document is the immutable metadata record for one indexed file. DocId
// values are assigned monotonically by the DocStore and never reused; a
// deleted document is tombstoned in the segment holding its postings, and
// its DocStore record is removed.
type Document struct {
	DocID      uint32
	Path       string
	Extension  string
	SizeBytes  uint64
	Mtime      time.Time
	DocType    DocType
	TokenCount uint32
}

// ClassifyExtension maps a lowercase file extension (without the leading
// dot) to a DocType, used when a document is first registered.
func ClassifyExtension(ext string) DocType {
	switch ext {
	case "go", "py", "js", "ts", "java", "c", "cc", "cpp", "h", "hpp", "rs", "rb", "sh":
		return TypeCode
	case "md", "txt", "rst", "adoc":
		return TypeNote
	case "doc", "docx", "pdf", "odt":
		return TypeDoc
	case "csv", "json", "tsv", "parquet":
		return TypeData
	case "yaml", "yml", "toml", "ini", "cfg", "conf":
		return TypeConfig
	default:
		return TypeOther
	}
}
