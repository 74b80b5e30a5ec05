package index

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

// Registry owns one index lifecycle per dataset. Searches read the current
// snapshot through an atomic pointer; build completion swaps the pointer so
// in-flight searches observe either the old or the new index, never a mix.
//
// The registry tracks index state only. Whether a dataset exists at all is
// the descriptor repository's concern: a dataset the registry has never
// seen reads as not_indexed, and lookups here report NotReady, not NotFound.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	state    dataset.IndexState
	building bool
	idx      atomic.Pointer[Index]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) get(datasetID string) *entry {
	e, ok := r.entries[datasetID]
	if !ok {
		e = &entry{state: dataset.StateNotIndexed}
		r.entries[datasetID] = e
	}
	return e
}

// Snapshot returns the dataset's ready index. Any non-ready state yields
// NotReady carrying that state.
func (r *Registry) Snapshot(datasetID string) (*Index, error) {
	r.mu.Lock()
	e, ok := r.entries[datasetID]
	var state dataset.IndexState
	if ok {
		state = e.state
	} else {
		state = dataset.StateNotIndexed
	}
	r.mu.Unlock()

	if !state.Queryable() {
		return nil, domain.NewNotReady(string(state))
	}
	idx := e.idx.Load()
	if idx == nil {
		return nil, fmt.Errorf("ready entry %s has no index: %w", datasetID, domain.ErrInternal)
	}
	return idx, nil
}

// State returns the dataset's index state.
func (r *Registry) State(datasetID string) dataset.IndexState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[datasetID]; ok {
		return e.state
	}
	return dataset.StateNotIndexed
}

// States returns the state of every tracked dataset.
func (r *Registry) States() map[string]dataset.IndexState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]dataset.IndexState, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.state
	}
	return out
}

// BeginBuild claims the dataset for one build. A second build while one is
// running reports ErrAlreadyIndexing. Rebuilding a ready dataset keeps the
// old snapshot serving until Complete swaps it.
func (r *Registry) BeginBuild(datasetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(datasetID)
	if e.building || !e.state.BuildAllowed() {
		return fmt.Errorf("dataset %s: %w", datasetID, domain.ErrAlreadyIndexing)
	}
	e.building = true
	if e.state != dataset.StateReady {
		e.state = dataset.StateIndexing
	}
	return nil
}

// Complete installs the built index and marks the dataset ready.
func (r *Registry) Complete(datasetID string, idx *Index) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(datasetID)
	e.idx.Store(idx)
	e.state = dataset.StateReady
	e.building = false
}

// Fail releases the build claim. A failed first build returns the dataset
// to not_indexed; a failed rebuild leaves the old ready snapshot serving.
func (r *Registry) Fail(datasetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(datasetID)
	e.building = false
	if e.state == dataset.StateIndexing {
		e.state = dataset.StateNotIndexed
	}
}

// Invalidate marks the dataset's index stale after re-ingest and drops the
// snapshot. Invalidating a dataset that was never indexed is a no-op. A
// build already running keeps its claim and will swap in its result when it
// completes.
func (r *Registry) Invalidate(datasetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[datasetID]
	if !ok || e.state == dataset.StateNotIndexed {
		return
	}
	e.idx.Store(nil)
	e.state = dataset.StateInvalidated
}
