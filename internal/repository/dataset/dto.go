package dataset

import (
	"encoding/json"
	"fmt"

	domds "github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

// descriptorDTO is the JSON form of a descriptor stored in the KV cache.
type descriptorDTO struct {
	ID       string `json:"id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	TileSize int    `json:"tile_size"`
	Levels   int    `json:"levels"`
	Format   string `json:"format"`
}

func descriptorToBytes(d domds.Descriptor) ([]byte, error) {
	data, err := json.Marshal(descriptorDTO{
		ID:       d.ID(),
		Width:    d.Width(),
		Height:   d.Height(),
		TileSize: d.TileSize(),
		Levels:   d.LevelCount(),
		Format:   d.Format(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	return data, nil
}

func descriptorFromBytes(data []byte) (domds.Descriptor, error) {
	var dto descriptorDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return domds.Descriptor{}, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	if dto.ID == "" || dto.TileSize <= 0 || dto.Levels <= 0 {
		return domds.Descriptor{}, fmt.Errorf("descriptor cache entry incomplete: %+v", dto)
	}
	return domds.Reconstruct(dto.ID, dto.Width, dto.Height, dto.TileSize, dto.Levels, dto.Format), nil
}
