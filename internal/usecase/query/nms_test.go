package query

import (
	"testing"

	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

func cand(id uint32, x, y, w, h int, score float64) candidate {
	return candidate{id: id, bbox: region.Reconstruct(x, y, w, h), score: score}
}

func TestSuppress_KeepsBestOfOverlappingPair(t *testing.T) {
	cands := []candidate{
		cand(1, 10, 10, 100, 100, 0.80), // IoU with id 0 well above 0.45
		cand(0, 0, 0, 100, 100, 0.95),
		cand(2, 300, 300, 100, 100, 0.70),
	}

	kept, dropped := suppress(cands, 0.45)

	if len(kept) != 2 || dropped != 1 {
		t.Fatalf("kept %d dropped %d, want 2/1", len(kept), dropped)
	}
	if kept[0].id != 0 || kept[1].id != 2 {
		t.Errorf("kept ids = %d, %d, want 0, 2", kept[0].id, kept[1].id)
	}
}

func TestSuppress_ScoreOrderNotInputOrder(t *testing.T) {
	cands := []candidate{
		cand(0, 0, 0, 10, 10, 0.1),
		cand(1, 500, 500, 10, 10, 0.9),
		cand(2, 900, 0, 10, 10, 0.5),
	}

	kept, _ := suppress(cands, 0.45)

	if len(kept) != 3 {
		t.Fatalf("kept %d, want 3 disjoint", len(kept))
	}
	want := []uint32{1, 2, 0}
	for i, k := range kept {
		if k.id != want[i] {
			t.Errorf("kept[%d].id = %d, want %d", i, k.id, want[i])
		}
	}
}

func TestSuppress_EqualScoresBreakTiesByLowerID(t *testing.T) {
	// Identical boxes and scores: only the lowest id survives.
	cands := []candidate{
		cand(7, 50, 50, 80, 80, 0.6),
		cand(3, 50, 50, 80, 80, 0.6),
		cand(5, 50, 50, 80, 80, 0.6),
	}

	kept, dropped := suppress(cands, 0.45)

	if len(kept) != 1 || dropped != 2 {
		t.Fatalf("kept %d dropped %d, want 1/2", len(kept), dropped)
	}
	if kept[0].id != 3 {
		t.Errorf("survivor id = %d, want 3", kept[0].id)
	}
}

func TestSuppress_BoundaryIoUIsKept(t *testing.T) {
	// Two 100x100 boxes overlapping 50x100: IoU = 5000/15000 = 1/3.
	// At threshold exactly 1/3 the pair must survive (strictly greater
	// drops).
	a := cand(0, 0, 0, 100, 100, 0.9)
	b := cand(1, 50, 0, 100, 100, 0.8)

	kept, _ := suppress([]candidate{a, b}, 1.0/3.0)

	if len(kept) != 2 {
		t.Fatalf("kept %d, want both at boundary overlap", len(kept))
	}
}

func TestSuppress_IdempotentOnOwnOutput(t *testing.T) {
	cands := []candidate{
		cand(0, 0, 0, 100, 100, 0.95),
		cand(1, 20, 20, 100, 100, 0.90),
		cand(2, 40, 40, 100, 100, 0.85),
		cand(3, 500, 500, 100, 100, 0.80),
		cand(4, 510, 510, 100, 100, 0.75),
	}

	first, _ := suppress(cands, 0.45)
	second, dropped := suppress(first, 0.45)

	if dropped != 0 {
		t.Fatalf("second pass dropped %d, want 0", dropped)
	}
	if len(second) != len(first) {
		t.Fatalf("second pass kept %d, first kept %d", len(second), len(first))
	}
	for i := range first {
		if first[i].id != second[i].id {
			t.Errorf("pass mismatch at %d: %d vs %d", i, first[i].id, second[i].id)
		}
	}
}

func TestSuppress_Empty(t *testing.T) {
	kept, dropped := suppress(nil, 0.45)
	if len(kept) != 0 || dropped != 0 {
		t.Fatalf("kept %d dropped %d, want 0/0", len(kept), dropped)
	}
}
