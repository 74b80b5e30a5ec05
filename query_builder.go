package zoomdex

import "context"

// QueryBuilder is a fluent builder for semantic queries against one
// dataset.
//
//	out, err := eng.Query("m31").
//	    Text("spiral galaxy").
//	    TopK(10).
//	    MinScore(0.25).
//	    Within(zoomdex.BBox{X: 0, Y: 0, Width: 4096, Height: 4096}).
//	    Do(ctx)
type QueryBuilder struct {
	eng     *Engine
	dataset string

	text     string
	topK     int
	minScore float64
	expand   bool
	level    *int
	within   *BBox
}

// Text sets the query text.
func (b *QueryBuilder) Text(q string) *QueryBuilder {
	b.text = q
	return b
}

// TopK bounds the number of hits (default 20, max 100).
func (b *QueryBuilder) TopK(k int) *QueryBuilder {
	b.topK = k
	return b
}

// MinScore drops hits scoring below the threshold.
func (b *QueryBuilder) MinScore(s float64) *QueryBuilder {
	b.minScore = s
	return b
}

// Expand scores probe variants of the query and merges them by max score.
func (b *QueryBuilder) Expand() *QueryBuilder {
	b.expand = true
	return b
}

// Level restricts hits to one pyramid level.
func (b *QueryBuilder) Level(level int) *QueryBuilder {
	b.level = &level
	return b
}

// Within restricts hits to patches fully inside the box.
func (b *QueryBuilder) Within(box BBox) *QueryBuilder {
	b.within = &box
	return b
}

// Do executes the query.
func (b *QueryBuilder) Do(ctx context.Context) (SearchOutcome, error) {
	return b.eng.Search(ctx, b.dataset, b.text, &SearchOptions{
		TopK:     b.topK,
		MinScore: b.minScore,
		Expand:   b.expand,
		Level:    b.level,
		Within:   b.within,
	})
}
