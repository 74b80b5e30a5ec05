package dataset

// IndexState is the lifecycle state of a dataset's embedding index.
type IndexState string

// Index lifecycle states.
const (
	StateNotIndexed  IndexState = "not_indexed"
	StateIndexing    IndexState = "indexing"
	StateReady       IndexState = "ready"
	StateInvalidated IndexState = "invalidated"
)

// Queryable reports whether search may read the index in this state.
func (s IndexState) Queryable() bool { return s == StateReady }

// BuildAllowed reports whether a new index build may start in this state.
// A ready index may be rebuilt (the old snapshot keeps serving until the
// swap); only a running build blocks.
func (s IndexState) BuildAllowed() bool {
	return s != StateIndexing
}
