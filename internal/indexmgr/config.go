package indexmgr

import (
	"time"

	"github.com/fsearch/fsearch/internal/memindex"
	"github.com/fsearch/fsearch/internal/tokenizer"
)

// Config configures an index manager instance. The CLI/daemon layer
// translates the application-wide YAML configuration into this shape.
type Config struct {
	DataDir       string
	SourceRoots   []string
	NumWorkers    int
	QueueCapacity int
	Thresholds    memindex.Thresholds
	FlushInterval time.Duration
	TokenizerOpts tokenizer.Options
	MergeFanIn    int
	MergeInterval time.Duration
}

// DefaultConfig returns sensible defaults: worker count left at zero means
// "use runtime.NumCPU()", resolved by the caller.
func DefaultConfig(dataDir string, sourceRoots []string) Config {
	return Config{
		DataDir:       dataDir,
		SourceRoots:   sourceRoots,
		NumWorkers:    0,
		QueueCapacity: 1000,
		Thresholds:    memindex.DefaultThresholds(),
		FlushInterval: 30 * time.Second,
		TokenizerOpts: tokenizer.DefaultOptions(),
		MergeFanIn:    4,
		MergeInterval: time.Minute,
	}
}
