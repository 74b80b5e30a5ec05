package tilestore

import (
	"errors"
	"testing"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

const sampleDZI = `<?xml version="1.0" encoding="UTF-8"?>
<Image xmlns="http://schemas.microsoft.com/deepzoom/2008" Format="jpg" Overlap="0" TileSize="256">
  <Size Width="5000" Height="3000"/>
</Image>`

func TestParseDZI(t *testing.T) {
	desc, err := ParseDZI("andromeda", []byte(sampleDZI))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Width() != 5000 || desc.Height() != 3000 {
		t.Errorf("unexpected dimensions %dx%d", desc.Width(), desc.Height())
	}
	if desc.TileSize() != 256 {
		t.Errorf("unexpected tile size %d", desc.TileSize())
	}
	if desc.Format() != "jpg" {
		t.Errorf("unexpected format %q", desc.Format())
	}
	if desc.LevelCount() != 6 {
		t.Errorf("unexpected level count %d", desc.LevelCount())
	}
}

func TestParseDZI_RejectsOverlap(t *testing.T) {
	data := `<Image xmlns="http://schemas.microsoft.com/deepzoom/2008" Format="jpg" Overlap="1" TileSize="256">
  <Size Width="1024" Height="1024"/>
</Image>`
	_, err := ParseDZI("d", []byte(data))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseDZI_RejectsBadDimensions(t *testing.T) {
	data := `<Image xmlns="http://schemas.microsoft.com/deepzoom/2008" Format="jpg" Overlap="0" TileSize="256">
  <Size Width="0" Height="1024"/>
</Image>`
	_, err := ParseDZI("d", []byte(data))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseDZI_Garbage(t *testing.T) {
	_, err := ParseDZI("d", []byte("not xml at all"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMarshalDZI_RoundTrip(t *testing.T) {
	desc, err := dataset.New("sun-mosaic", 4096, 4096, 256, 0, "png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := MarshalDZI(desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	back, err := ParseDZI("sun-mosaic", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != desc {
		t.Errorf("round trip mismatch: got %+v want %+v", back, desc)
	}
}

func TestTileKey(t *testing.T) {
	got := TileKey("andromeda", 3, 7, 2, "jpg")
	if got != "andromeda/3/7_2.jpg" {
		t.Errorf("unexpected key %q", got)
	}
}
