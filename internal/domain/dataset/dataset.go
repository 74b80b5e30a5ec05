// Package dataset defines the tile-pyramid descriptor value object.
package dataset

import (
	"fmt"
	"math/bits"
	"regexp"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Descriptor describes one tile-pyramid dataset (immutable value object).
// Level 0 is the coarsest level (the whole image fits in one tile);
// resolution doubles with each increasing level; the finest level is 1:1
// with the nominal width/height.
type Descriptor struct {
	id       string
	width    int
	height   int
	tileSize int
	levels   int
	format   string
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("dataset id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("dataset id too long (max 64)")
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("dataset id must be alphanumeric with underscores and hyphens")
	}
	return nil
}

// Levels returns the pyramid depth for the given dimensions and tile size:
// enough levels that halving from full resolution fits the whole image in
// a single tile at level 0. Minimum 1.
func Levels(width, height, tileSize int) int {
	maxDim := max(width, height)
	if maxDim <= tileSize {
		return 1
	}
	// ceil(log2(maxDim / tileSize)) + 1
	q := (maxDim + tileSize - 1) / tileSize
	levels := bits.Len(uint(q - 1))
	return levels + 1
}

// New validates and creates a Descriptor. A zero levels value is derived
// from the dimensions; an explicit value must match the derivation.
func New(id string, width, height, tileSize, levels int, format string) (Descriptor, error) {
	if err := validateID(id); err != nil {
		return Descriptor{}, err
	}
	if width < 0 || height < 0 {
		return Descriptor{}, fmt.Errorf("dimensions must be non-negative, got %dx%d", width, height)
	}
	if tileSize <= 0 {
		return Descriptor{}, fmt.Errorf("tile size must be positive, got %d", tileSize)
	}
	derived := Levels(width, height, tileSize)
	if levels == 0 {
		levels = derived
	} else if levels != derived {
		return Descriptor{}, fmt.Errorf("levels %d inconsistent with %dx%d at tile size %d (want %d)",
			levels, width, height, tileSize, derived)
	}
	if format == "" {
		format = "jpg"
	}
	return Descriptor{
		id:       id,
		width:    width,
		height:   height,
		tileSize: tileSize,
		levels:   levels,
		format:   format,
	}, nil
}

// Reconstruct creates a Descriptor without validation (storage hydration).
func Reconstruct(id string, width, height, tileSize, levels int, format string) Descriptor {
	return Descriptor{
		id:       id,
		width:    width,
		height:   height,
		tileSize: tileSize,
		levels:   levels,
		format:   format,
	}
}

// ID returns the dataset identifier.
func (d Descriptor) ID() string { return d.id }

// Width returns the nominal pixel width at full resolution.
func (d Descriptor) Width() int { return d.width }

// Height returns the nominal pixel height at full resolution.
func (d Descriptor) Height() int { return d.height }

// TileSize returns the tile edge length in pixels.
func (d Descriptor) TileSize() int { return d.tileSize }

// LevelCount returns the number of pyramid levels.
func (d Descriptor) LevelCount() int { return d.levels }

// Format returns the tile image format (jpg, png, webp).
func (d Descriptor) Format() string { return d.format }

// MaxDim returns the larger of width and height.
func (d Descriptor) MaxDim() int { return max(d.width, d.height) }
