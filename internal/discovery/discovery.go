// Package discovery implements the ingest pipeline's producer: it walks
// configured source roots, applies admission checks to each candidate
// file, and pushes admitted FileInfo values into the bounded queue that
// worker tokenizers consume.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultMaxFileSize bounds a single file's admitted size; larger files
	// are skipped rather than failing the whole walk.
	DefaultMaxFileSize = 64 << 20 // 64 MiB

	// DefaultQueueCapacity matches the ingest pipeline's bounded queue.
	DefaultQueueCapacity = 1000
)

// FileInfo is one admitted file discovered under a source root.
type FileInfo struct {
	Path  string
	Mtime time.Time
	Size  int64
}

// AdmissionError holds per-field reasons a candidate file was rejected,
// mirroring the shape of a multi-field validation failure.
type AdmissionError struct {
	Fields map[string]string
}

func (e *AdmissionError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// Walker walks a set of source roots and admits regular files under a
// maximum size, skipping directories in excludeDirs (matched by base name,
// e.g. ".git", "node_modules") and dotfiles.
type Walker struct {
	Roots         []string
	MaxFileSize   int64
	ExcludeDirs   map[string]struct{}
	IncludeHidden bool
}

// NewWalker creates a Walker over roots with the default size cap and a
// sensible set of excluded directory names.
func NewWalker(roots []string) *Walker {
	return &Walker{
		Roots:       roots,
		MaxFileSize: DefaultMaxFileSize,
		ExcludeDirs: map[string]struct{}{
			".git": {}, ".hg": {}, ".svn": {}, "node_modules": {}, "vendor": {}, ".build": {},
		},
	}
}

// Admit checks whether a discovered directory entry qualifies for ingest,
// returning an AdmissionError describing every failing check.
func (w *Walker) Admit(path string, d fs.DirEntry, info fs.FileInfo) error {
	errs := make(map[string]string)
	if d.IsDir() {
		errs["path"] = "is a directory"
	}
	if !w.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
		errs["path"] = "hidden file"
	}
	if !d.Type().IsRegular() {
		errs["type"] = "not a regular file"
	}
	if info != nil && info.Size() > w.MaxFileSize {
		errs["size"] = fmt.Sprintf("exceeds max admitted size of %d bytes", w.MaxFileSize)
	}
	if len(errs) > 0 {
		return &AdmissionError{Fields: errs}
	}
	return nil
}

// Walk traverses every root and pushes admitted files onto queue. It
// returns when every root has been fully walked, ctx is cancelled, or a
// non-admission error (e.g. a permission failure) occurs. The caller is
// responsible for closing queue or sending the worker-termination sentinel
// after Walk returns.
func (w *Walker) Walk(ctx context.Context, queue chan<- FileInfo) error {
	for _, root := range w.Roots {
		if err := w.walkRoot(ctx, root, queue); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) walkRoot(ctx context.Context, root string, queue chan<- FileInfo) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if _, excluded := w.ExcludeDirs[d.Name()]; excluded && path != root {
				return filepath.SkipDir
			}
			if !w.IncludeHidden && strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			if os.IsNotExist(statErr) {
				return nil // file removed between walk and stat; not an error
			}
			return statErr
		}
		if err := w.Admit(path, d, info); err != nil {
			return nil // inadmissible files are skipped, not fatal
		}

		select {
		case queue <- FileInfo{Path: path, Mtime: info.ModTime(), Size: info.Size()}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}
