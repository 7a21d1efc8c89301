package indexmgr

import (
	"context"
	"path/filepath"

	"github.com/fsearch/fsearch/internal/discovery"
	"github.com/fsearch/fsearch/internal/wal"
)

// Recover replays the WAL against the current DocStore state. Each record
// is checked against DocStore (path + mtime + size); if its effect is
// already reflected there, it is skipped. Anything not yet applied
// triggers a fresh round of ingest (or delete) for that path. Recovery
// finishes by checkpointing the WAL, since every entry has either been
// confirmed applied or re-applied.
func (mgr *Manager) Recover() error {
	records, err := wal.Replay(mgr.walDir())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ctx := context.Background()
	mgr.logger.Info("replaying wal", "records", len(records))

	for _, rec := range records {
		if err := mgr.recoverOne(ctx, rec); err != nil {
			mgr.logger.Error("failed to recover wal record", "op", rec.Op, "path", rec.Path, "error", err)
		}
	}

	return mgr.wal.Checkpoint()
}

func (mgr *Manager) recoverOne(ctx context.Context, rec wal.Record) error {
	existing, found, err := mgr.docstore.FindByPath(ctx, rec.Path)
	if err != nil {
		return err
	}

	switch rec.Op {
	case wal.OpDelete:
		if !found {
			return nil // already applied
		}
		return mgr.deletePath(ctx, rec.Path)

	case wal.OpAdd, wal.OpUpdate:
		if found && existing.Mtime.Equal(rec.Mtime) && existing.SizeBytes == uint64(rec.Size) {
			return nil // already applied
		}
		return mgr.IngestPath(ctx, discovery.FileInfo{Path: rec.Path, Mtime: rec.Mtime, Size: rec.Size})

	default:
		return nil
	}
}

func (mgr *Manager) walDir() string {
	return filepath.Join(mgr.cfg.DataDir, "wal")
}
