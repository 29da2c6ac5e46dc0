// Package data provides the in-memory name indexes behind the matching cascades.
// An index is loaded lazily, swapped atomically on rebuild, and never invalidated on
// its own: code that mutates the underlying table asks for a rebuild explicitly.
package data

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/metrics"
	"github.com/giygas/drug-registry/normalize"
	"github.com/giygas/drug-registry/similarity"
)

// IndexEntry is one searchable name. ID is 0 for vocabulary-only indexes.
type IndexEntry struct {
	ID   int64
	Name string
	Norm string
}

// Snapshot is an immutable view of an index. Readers keep using the snapshot they
// loaded even while a rebuild swaps in a newer one.
type Snapshot struct {
	Version uint64
	BuiltAt time.Time
	Entries []IndexEntry
	Norms   []string
	Vectors *similarity.TFIDF
}

// Len returns the number of entries in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Loader fetches the current corpus from storage.
type Loader func(ctx context.Context) ([]IndexEntry, error)

// NameIndex owns the current snapshot of a name corpus.
type NameIndex struct {
	name     string
	loader   Loader
	analyzer similarity.Analyzer

	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64
	updating atomic.Bool
	mu       sync.Mutex
}

// NewNameIndex creates an empty index; nothing is loaded until first use.
func NewNameIndex(name string, loader Loader, analyzer similarity.Analyzer) *NameIndex {
	return &NameIndex{
		name:     name,
		loader:   loader,
		analyzer: analyzer,
	}
}

// Name returns the label used in logs and metrics.
func (ix *NameIndex) Name() string {
	return ix.name
}

// Snapshot returns the current snapshot, building it on first use.
func (ix *NameIndex) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s := ix.snapshot.Load(); s != nil {
		return s, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Another caller may have built it while we waited.
	if s := ix.snapshot.Load(); s != nil {
		return s, nil
	}
	return ix.rebuildLocked(ctx)
}

// Current returns the loaded snapshot or nil if the index was never built.
func (ix *NameIndex) Current() *Snapshot {
	return ix.snapshot.Load()
}

// Rebuild reloads the corpus and swaps in a new snapshot. Concurrent rebuilds run
// one after the other.
func (ix *NameIndex) Rebuild(ctx context.Context) (*Snapshot, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.rebuildLocked(ctx)
}

func (ix *NameIndex) rebuildLocked(ctx context.Context) (*Snapshot, error) {
	ix.updating.Store(true)
	defer ix.updating.Store(false)

	start := time.Now()

	entries, err := ix.loader(ctx)
	if err != nil {
		logging.Error("Failed to load name index", "index", ix.name, "error", err)
		return nil, fmt.Errorf("failed to load %s index: %w", ix.name, err)
	}

	norms := make([]string, len(entries))
	for i := range entries {
		if entries[i].Norm == "" {
			entries[i].Norm = normalize.Name(entries[i].Name)
		}
		norms[i] = entries[i].Norm
	}

	snap := &Snapshot{
		Version: ix.version.Add(1),
		BuiltAt: time.Now(),
		Entries: entries,
		Norms:   norms,
		Vectors: similarity.NewTFIDF(norms, ix.analyzer),
	}
	ix.snapshot.Store(snap)

	elapsed := time.Since(start)
	metrics.IndexRebuildDuration.WithLabelValues(ix.name).Observe(elapsed.Seconds())
	metrics.IndexSize.WithLabelValues(ix.name).Set(float64(len(entries)))
	logging.Info("Name index rebuilt", "index", ix.name, "version", snap.Version, "entries", len(entries), "duration", elapsed.String())

	return snap, nil
}

// Version returns the version of the last built snapshot, 0 if never built.
func (ix *NameIndex) Version() uint64 {
	return ix.version.Load()
}

// IsUpdating reports whether a rebuild is in progress.
func (ix *NameIndex) IsUpdating() bool {
	return ix.updating.Load()
}

// LastUpdated returns when the current snapshot was built.
func (ix *NameIndex) LastUpdated() time.Time {
	if s := ix.snapshot.Load(); s != nil {
		return s.BuiltAt
	}
	return time.Time{}
}

// Len returns the size of the current snapshot without triggering a build.
func (ix *NameIndex) Len() int {
	return ix.snapshot.Load().Len()
}
