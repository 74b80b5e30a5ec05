package patch

import (
	"testing"

	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

func TestNew_ValidatesContainment(t *testing.T) {
	inside := region.Reconstruct(100, 200, 50, 75)
	if _, err := New(1, inside, 0, 0.5, 1000, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	crossing := region.Reconstruct(990, 0, 20, 20)
	if _, err := New(2, crossing, 0, 0.5, 1000, 1000); err == nil {
		t.Error("expected error for bbox crossing the right edge")
	}
}

func TestNew_RejectsNegativeLevel(t *testing.T) {
	b := region.Reconstruct(0, 0, 10, 10)
	if _, err := New(1, b, -1, 0.5, 100, 100); err == nil {
		t.Error("expected error for negative level")
	}
}

func TestNew_RejectsNegativeQuality(t *testing.T) {
	b := region.Reconstruct(0, 0, 10, 10)
	if _, err := New(1, b, 0, -0.1, 100, 100); err == nil {
		t.Error("expected error for negative quality")
	}
}

func TestReconstruct_SkipsValidation(t *testing.T) {
	b := region.Reconstruct(990, 0, 20, 20)
	r := Reconstruct(7, b, 2, 1.5)
	if r.ID() != 7 || r.Level() != 2 || r.Quality() != 1.5 {
		t.Errorf("unexpected record %+v", r)
	}
}
