// Package index implements the per-dataset flat inner-product index over
// L2-normalized embedding vectors, with copy-on-write snapshots for
// lock-free concurrent reads, and the registry that owns one index
// lifecycle per dataset.
package index

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/patch"
	"github.com/deepfield-io/zoomdex/internal/domain/query"
)

// Hit is one scored index entry.
type Hit struct {
	ID    uint32
	Score float32
}

// snapshot is the immutable state of an index. Readers load it once and
// never observe writes that happen after the load.
type snapshot struct {
	count   int
	vectors []float32 // count*dim values, row-major, L2-normalized
	records []patch.Record
	levels  map[int]*roaring.Bitmap // per-level posting lists
}

// Index is a flat inner-product index. Patch ids are dense: entry i holds
// the record with id i, so insertion order fixes the deterministic
// lower-id tie-break.
type Index struct {
	dim     int
	writeMu sync.Mutex
	state   atomic.Pointer[snapshot]
}

// New creates an empty index for vectors of the given dimensionality.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, domain.NewValidation("dim", fmt.Sprintf("must be positive, got %d", dim))
	}
	idx := &Index{dim: dim}
	idx.state.Store(&snapshot{levels: map[int]*roaring.Bitmap{}})
	return idx, nil
}

// Dim returns the vector dimensionality.
func (x *Index) Dim() int { return x.dim }

// Len returns the number of indexed entries.
func (x *Index) Len() int { return x.state.Load().count }

// Record returns the record stored under id.
func (x *Index) Record(id uint32) (patch.Record, bool) {
	snap := x.state.Load()
	if int(id) >= snap.count {
		return patch.Record{}, false
	}
	return snap.records[id], true
}

// Records returns the indexed records in id order. The returned slice is a
// shared snapshot view and must not be mutated.
func (x *Index) Records() []patch.Record {
	snap := x.state.Load()
	return snap.records[:snap.count]
}

// Add appends vectors and their records. Records must continue the dense id
// sequence (record i carries id Len()+i). Vectors are defensively
// L2-normalized; zero vectors and dimension mismatches are rejected and
// nothing is applied.
func (x *Index) Add(vectors [][]float32, records []patch.Record) error {
	if len(vectors) != len(records) {
		return domain.NewValidation("batch", fmt.Sprintf("%d vectors for %d records", len(vectors), len(records)))
	}
	if len(vectors) == 0 {
		return nil
	}

	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	old := x.state.Load()
	base := uint32(old.count)

	normalized := make([][]float32, len(vectors))
	touched := make(map[int]struct{})
	for i, v := range vectors {
		if len(v) != x.dim {
			return domain.NewValidation("vector", fmt.Sprintf("dimension %d, index expects %d", len(v), x.dim))
		}
		if records[i].ID() != base+uint32(i) {
			return domain.NewValidation("record", fmt.Sprintf("id %d breaks the dense sequence (want %d)", records[i].ID(), base+uint32(i)))
		}
		n, ok := NormalizeL2Copy(v)
		if !ok {
			return domain.NewValidation("vector", fmt.Sprintf("entry %d has zero norm", i))
		}
		normalized[i] = n
		touched[records[i].Level()] = struct{}{}
	}

	next := &snapshot{
		count:   old.count + len(vectors),
		vectors: old.vectors,
		records: old.records,
		levels:  make(map[int]*roaring.Bitmap, len(old.levels)+len(touched)),
	}
	for _, n := range normalized {
		next.vectors = append(next.vectors, n...)
	}
	next.records = append(next.records, records...)

	// Posting bitmaps are mutable, so levels gaining entries are cloned and
	// untouched ones are shared with the old snapshot.
	for lv, bm := range old.levels {
		if _, ok := touched[lv]; ok {
			next.levels[lv] = bm.Clone()
		} else {
			next.levels[lv] = bm
		}
	}
	for i, rec := range records {
		bm, ok := next.levels[rec.Level()]
		if !ok {
			bm = roaring.New()
			next.levels[rec.Level()] = bm
		}
		bm.Add(base + uint32(i))
	}

	x.state.Store(next)
	return nil
}

// Search returns the k highest inner-product entries for the query vector,
// sorted by score descending with ties broken by lower id. The query is
// defensively normalized. A k larger than the index returns every entry.
func (x *Index) Search(q []float32, k int, f query.Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, domain.NewValidation("k", fmt.Sprintf("must be positive, got %d", k))
	}
	if len(q) != x.dim {
		return nil, domain.NewValidation("query", fmt.Sprintf("dimension %d, index expects %d", len(q), x.dim))
	}
	qn, ok := NormalizeL2Copy(q)
	if !ok {
		return nil, domain.NewValidation("query", "zero norm")
	}

	snap := x.state.Load()
	if snap.count == 0 {
		return nil, nil
	}
	if k > snap.count {
		k = snap.count
	}

	top := newTopK(k)
	score := func(id uint32) {
		rec := snap.records[id]
		if f.Within != nil {
			if _, ok := rec.BBox().Intersect(*f.Within); !ok {
				return
			}
		}
		off := int(id) * x.dim
		top.offer(Hit{ID: id, Score: Dot(qn, snap.vectors[off:off+x.dim])})
	}

	if f.Level >= 0 {
		bm, ok := snap.levels[f.Level]
		if !ok {
			return nil, nil
		}
		it := bm.Iterator()
		for it.HasNext() {
			score(it.Next())
		}
	} else {
		for id := uint32(0); int(id) < snap.count; id++ {
			score(id)
		}
	}

	return top.drain(), nil
}
