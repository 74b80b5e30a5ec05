package region

import "testing"

func mustNew(t *testing.T, x, y, w, h int) BBox {
	t.Helper()
	b, err := New(x, y, w, h)
	if err != nil {
		t.Fatalf("New(%d,%d,%d,%d): %v", x, y, w, h, err)
	}
	return b
}

func TestNew_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name       string
		x, y, w, h int
	}{
		{"negative x", -1, 0, 10, 10},
		{"negative y", 0, -5, 10, 10},
		{"zero width", 0, 0, 0, 10},
		{"zero height", 0, 0, 10, 0},
		{"negative width", 0, 0, -3, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.x, tc.y, tc.w, tc.h); err == nil {
				t.Errorf("expected error for (%d,%d,%d,%d)", tc.x, tc.y, tc.w, tc.h)
			}
		})
	}
}

func TestInside(t *testing.T) {
	b := mustNew(t, 90, 90, 10, 10)
	if !b.Inside(100, 100) {
		t.Error("box touching the far edge should be inside")
	}
	if b.Inside(99, 100) {
		t.Error("box crossing the right edge should be outside")
	}
	if b.Inside(100, 99) {
		t.Error("box crossing the bottom edge should be outside")
	}
}

func TestIntersect(t *testing.T) {
	a := mustNew(t, 0, 0, 10, 10)
	b := mustNew(t, 5, 5, 10, 10)
	inter, ok := a.Intersect(b)
	if !ok {
		t.Fatal("expected overlap")
	}
	if inter.X() != 5 || inter.Y() != 5 || inter.Width() != 5 || inter.Height() != 5 {
		t.Errorf("unexpected intersection %v", inter)
	}

	c := mustNew(t, 10, 0, 5, 5)
	if _, ok := a.Intersect(c); ok {
		t.Error("edge-adjacent boxes must not intersect")
	}
}

func TestIoU(t *testing.T) {
	a := mustNew(t, 0, 0, 10, 10)

	if got := a.IoU(a); got != 1.0 {
		t.Errorf("self IoU = %v, want 1.0", got)
	}

	b := mustNew(t, 20, 20, 10, 10)
	if got := a.IoU(b); got != 0 {
		t.Errorf("disjoint IoU = %v, want 0", got)
	}

	// 10x10 boxes offset by 5: intersection 25, union 175.
	c := mustNew(t, 5, 5, 10, 10)
	want := 25.0 / 175.0
	if got := a.IoU(c); got < want-1e-9 || got > want+1e-9 {
		t.Errorf("IoU = %v, want %v", got, want)
	}
}

func TestScaleRoundTrip(t *testing.T) {
	b := mustNew(t, 13, 27, 50, 75)
	down := b.ScaleDown(4)
	up := down.ScaleUp(4)

	// Down-then-up must cover the original box.
	if up.X() > b.X() || up.Y() > b.Y() || up.Right() < b.Right() || up.Bottom() < b.Bottom() {
		t.Errorf("scaled box %v does not cover original %v", up, b)
	}
	// And must not slip by more than one level pixel on any edge.
	if b.X()-up.X() >= 4 || b.Y()-up.Y() >= 4 {
		t.Errorf("origin slipped too far: %v vs %v", up, b)
	}
}

func TestUnion(t *testing.T) {
	a := mustNew(t, 0, 0, 10, 10)
	b := mustNew(t, 20, 5, 10, 10)
	u := a.Union(b)
	if u.X() != 0 || u.Y() != 0 || u.Width() != 30 || u.Height() != 15 {
		t.Errorf("unexpected union %v", u)
	}
}
