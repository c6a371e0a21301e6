// Package remap records which source ids were stored under a different target id.
package remap

import (
	"maps"
	"sync"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// Remapper is an append-only source-to-target id map, safe for concurrent writers.
type Remapper struct {
	mu sync.Mutex
	m  migration.IDMapping
}

// New creates an empty remapper.
func New() *Remapper {
	return &Remapper{m: make(migration.IDMapping)}
}

// Seed preloads mappings persisted by an earlier attempt of the same run.
func (r *Remapper) Seed(m migration.IDMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for src, dst := range m {
		if src != dst {
			r.m[src] = dst
		}
	}
}

// Record stores the pair. It is a no-op when the ids are equal or either is empty.
// It reports whether the pair was recorded.
func (r *Remapper) Record(sourceID, targetID string) bool {
	if sourceID == targetID || sourceID == "" || targetID == "" {
		return false
	}
	r.mu.Lock()
	r.m[sourceID] = targetID
	r.mu.Unlock()
	return true
}

// Lookup returns the target id a source id was stored under. Unmapped ids map to themselves.
func (r *Remapper) Lookup(sourceID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dst, ok := r.m[sourceID]; ok {
		return dst
	}
	return sourceID
}

// Len returns the number of recorded pairs.
func (r *Remapper) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Snapshot returns a copy that later writes do not affect.
func (r *Remapper) Snapshot() migration.IDMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.m)
}
