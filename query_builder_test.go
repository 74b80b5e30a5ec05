package zoomdex

import (
	"context"
	"testing"

	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
)

func TestQueryBuilder_BuildsFullRequest(t *testing.T) {
	f := newEngineFixture(t)

	var got domquery.SearchRequest
	f.search.search = func(_ context.Context, id string, req domquery.SearchRequest) (domquery.Outcome, error) {
		if id != "m31" {
			t.Errorf("dataset = %q, want m31", id)
		}
		got = req
		return domquery.Outcome{Hits: []domquery.Hit{
			domquery.NewHit(1, 42, 0.88, mustRegion(t, 1, 2, 64, 64), 3),
		}}, nil
	}

	out, err := f.eng.Query("m31").
		Text("Planetary Nebula").
		TopK(7).
		MinScore(0.25).
		Expand().
		Level(3).
		Within(BBox{X: 0, Y: 0, Width: 2048, Height: 2048}).
		Do(context.Background())
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	if got.Text() != "planetary nebula" {
		t.Errorf("text = %q, want normalized", got.Text())
	}
	if got.TopK() != 7 || got.MinScore() != 0.25 || !got.Expand() {
		t.Errorf("request = topK %d minScore %v expand %v", got.TopK(), got.MinScore(), got.Expand())
	}
	if got.Filter().Level != 3 {
		t.Errorf("filter level = %d, want 3", got.Filter().Level)
	}
	if got.Filter().Within == nil || got.Filter().Within.Width() != 2048 {
		t.Errorf("filter within = %+v", got.Filter().Within)
	}
	if len(out.Hits) != 1 || out.Hits[0].PatchID != 42 {
		t.Errorf("hits = %+v", out.Hits)
	}
}

func TestQueryBuilder_Defaults(t *testing.T) {
	f := newEngineFixture(t)

	var got domquery.SearchRequest
	f.search.search = func(_ context.Context, _ string, req domquery.SearchRequest) (domquery.Outcome, error) {
		got = req
		return domquery.Outcome{}, nil
	}

	if _, err := f.eng.Query("m31").Text("star").Do(context.Background()); err != nil {
		t.Fatalf("do: %v", err)
	}

	if got.TopK() != domquery.DefaultTopK {
		t.Errorf("topK = %d, want default %d", got.TopK(), domquery.DefaultTopK)
	}
	if got.Expand() {
		t.Error("expand must default off")
	}
	if !got.Filter().Empty() {
		t.Errorf("filter = %+v, want empty", got.Filter())
	}
}

func TestQueryBuilder_NoText(t *testing.T) {
	f := newEngineFixture(t)
	f.search.search = func(context.Context, string, domquery.SearchRequest) (domquery.Outcome, error) {
		t.Fatal("engine must not be called without query text")
		return domquery.Outcome{}, nil
	}

	if _, err := f.eng.Query("m31").Do(context.Background()); err == nil {
		t.Fatal("expected error for missing text")
	}
}

func TestQueryBuilder_LevelZeroIsRestriction(t *testing.T) {
	f := newEngineFixture(t)

	var got domquery.SearchRequest
	f.search.search = func(_ context.Context, _ string, req domquery.SearchRequest) (domquery.Outcome, error) {
		got = req
		return domquery.Outcome{}, nil
	}

	if _, err := f.eng.Query("m31").Text("star").Level(0).Do(context.Background()); err != nil {
		t.Fatalf("do: %v", err)
	}
	if got.Filter().Level != 0 {
		t.Errorf("level = %d, want 0 (coarsest level is a valid restriction)", got.Filter().Level)
	}
	if got.Filter().Empty() {
		t.Error("level 0 must not read as no filter")
	}
}
