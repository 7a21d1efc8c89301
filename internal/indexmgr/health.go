package indexmgr

import (
	"context"
	"fmt"
	"syscall"

	"github.com/fsearch/fsearch/pkg/health"
)

// HealthChecks returns the set of health.Check functions the CLI/daemon
// wiring layer registers against a health.Checker: wal, manifest, and
// disk_space are answerable from the manager's own state; docstore proxies
// to the backing Postgres connection.
func (mgr *Manager) HealthChecks() map[string]health.Check {
	return map[string]health.Check{
		"wal":        mgr.checkWAL,
		"docstore":   mgr.checkDocStore,
		"manifest":   mgr.checkManifest,
		"disk_space": mgr.checkDiskSpace,
	}
}

func (mgr *Manager) checkWAL(ctx context.Context) health.ComponentHealth {
	size := mgr.wal.Size()
	max := mgr.wal.MaxSize()
	if max > 0 && size >= max {
		return health.ComponentHealth{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("active segment at %d/%d bytes, rotation overdue", size, max),
		}
	}
	return health.ComponentHealth{Status: health.StatusUp}
}

func (mgr *Manager) checkDocStore(ctx context.Context) health.ComponentHealth {
	err := mgr.docstore.Ping(ctx)
	if mgr.metrics != nil {
		mgr.metrics.CircuitBreakerState.WithLabelValues("docstore").Set(float64(mgr.docstore.BreakerState()))
	}
	if err != nil {
		return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
	}
	return health.ComponentHealth{Status: health.StatusUp}
}

func (mgr *Manager) checkManifest(ctx context.Context) health.ComponentHealth {
	current := mgr.manifest.Current()
	if len(current.Segments) == 0 && mgr.mem.DocCount() == 0 {
		return health.ComponentHealth{Status: health.StatusDegraded, Message: "no segments and empty mem segment"}
	}
	return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("generation %d, %d segments", current.Generation, len(current.Segments))}
}

func (mgr *Manager) checkDiskSpace(ctx context.Context) health.ComponentHealth {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(mgr.cfg.DataDir, &stat); err != nil {
		return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
	}
	freeBytes := stat.Bavail * uint64(stat.Bsize)
	const lowWaterMark = 512 << 20 // 512 MiB
	if freeBytes < lowWaterMark {
		return health.ComponentHealth{Status: health.StatusDegraded, Message: fmt.Sprintf("%d bytes free", freeBytes)}
	}
	return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d bytes free", freeBytes)}
}
