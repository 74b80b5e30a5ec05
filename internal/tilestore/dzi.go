package tilestore

import (
	"encoding/xml"
	"fmt"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

const dziNamespace = "http://schemas.microsoft.com/deepzoom/2008"

type dziImage struct {
	XMLName  xml.Name `xml:"Image"`
	Xmlns    string   `xml:"xmlns,attr"`
	Format   string   `xml:"Format,attr"`
	Overlap  int      `xml:"Overlap,attr"`
	TileSize int      `xml:"TileSize,attr"`
	Size     dziSize  `xml:"Size"`
}

type dziSize struct {
	Width  int `xml:"Width,attr"`
	Height int `xml:"Height,attr"`
}

// ParseDZI parses a Deep Zoom descriptor into a dataset Descriptor.
// Tiles with a nonzero overlap border are not supported: the pyramid
// convention requires edge-clipped tiles that never exceed the tile size.
func ParseDZI(datasetID string, data []byte) (dataset.Descriptor, error) {
	var img dziImage
	if err := xml.Unmarshal(data, &img); err != nil {
		return dataset.Descriptor{}, domain.NewValidation("descriptor", err.Error())
	}
	if img.Overlap != 0 {
		return dataset.Descriptor{}, domain.NewValidation("overlap", fmt.Sprintf("tile overlap %d not supported", img.Overlap))
	}
	if img.Size.Width <= 0 || img.Size.Height <= 0 {
		return dataset.Descriptor{}, domain.NewValidation("size", fmt.Sprintf("invalid dimensions %dx%d", img.Size.Width, img.Size.Height))
	}
	desc, err := dataset.New(datasetID, img.Size.Width, img.Size.Height, img.TileSize, 0, img.Format)
	if err != nil {
		return dataset.Descriptor{}, domain.NewValidation("descriptor", err.Error())
	}
	return desc, nil
}

// MarshalDZI renders a dataset Descriptor as a Deep Zoom XML descriptor.
func MarshalDZI(d dataset.Descriptor) ([]byte, error) {
	img := dziImage{
		Xmlns:    dziNamespace,
		Format:   d.Format(),
		Overlap:  0,
		TileSize: d.TileSize(),
		Size:     dziSize{Width: d.Width(), Height: d.Height()},
	}
	out, err := xml.MarshalIndent(img, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal dzi: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
