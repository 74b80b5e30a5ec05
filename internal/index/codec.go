package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/deepfield-io/zoomdex/internal/domain/patch"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

// Segment layout, little-endian throughout:
//
//	magic   [4]byte "ZDX1"
//	dim     uint32
//	count   uint32
//	mdlLen  uint32, embedding model id bytes
//	vecLen  uint32, zstd(count*dim float32 vectors, row-major)
//	recLen  uint32, zstd(JSON record array)
var segmentMagic = [4]byte{'Z', 'D', 'X', '1'}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

type recordDTO struct {
	ID      uint32  `json:"id"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Level   int     `json:"level"`
	Quality float64 `json:"quality"`
}

// SegmentName returns the blob name of a dataset's index segment.
func SegmentName(datasetID string) string {
	return datasetID + ".zdx"
}

// EncodeSegment serializes the index and the id of the embedding model that
// produced its vectors into one compressed segment blob.
func EncodeSegment(x *Index, model string) ([]byte, error) {
	snap := x.state.Load()

	vecs := make([]byte, snap.count*x.dim*4)
	for i, v := range snap.vectors[:snap.count*x.dim] {
		binary.LittleEndian.PutUint32(vecs[i*4:], math.Float32bits(v))
	}

	dtos := make([]recordDTO, snap.count)
	for i, rec := range snap.records[:snap.count] {
		b := rec.BBox()
		dtos[i] = recordDTO{
			ID:      rec.ID(),
			X:       b.X(),
			Y:       b.Y(),
			Width:   b.Width(),
			Height:  b.Height(),
			Level:   rec.Level(),
			Quality: rec.Quality(),
		}
	}
	recs, err := json.Marshal(dtos)
	if err != nil {
		return nil, fmt.Errorf("encode segment records: %w", err)
	}

	vecBlock := zstdEncoder.EncodeAll(vecs, nil)
	recBlock := zstdEncoder.EncodeAll(recs, nil)

	var buf bytes.Buffer
	buf.Write(segmentMagic[:])
	writeUint32(&buf, uint32(x.dim))
	writeUint32(&buf, uint32(snap.count))
	writeUint32(&buf, uint32(len(model)))
	buf.WriteString(model)
	writeUint32(&buf, uint32(len(vecBlock)))
	buf.Write(vecBlock)
	writeUint32(&buf, uint32(len(recBlock)))
	buf.Write(recBlock)
	return buf.Bytes(), nil
}

// DecodeSegment restores an index and its embedding model id from segment
// bytes.
func DecodeSegment(data []byte) (*Index, string, error) {
	r := &segmentReader{data: data}

	var magic [4]byte
	if err := r.read(magic[:]); err != nil {
		return nil, "", fmt.Errorf("decode segment: %w", err)
	}
	if magic != segmentMagic {
		return nil, "", fmt.Errorf("decode segment: bad magic %q", magic)
	}

	dim, err := r.uint32()
	if err != nil {
		return nil, "", fmt.Errorf("decode segment: %w", err)
	}
	if dim == 0 {
		return nil, "", fmt.Errorf("decode segment: zero dimension")
	}
	count, err := r.uint32()
	if err != nil {
		return nil, "", fmt.Errorf("decode segment: %w", err)
	}
	model, err := r.block()
	if err != nil {
		return nil, "", fmt.Errorf("decode segment model: %w", err)
	}
	vecBlock, err := r.block()
	if err != nil {
		return nil, "", fmt.Errorf("decode segment vectors: %w", err)
	}
	recBlock, err := r.block()
	if err != nil {
		return nil, "", fmt.Errorf("decode segment records: %w", err)
	}

	vecs, err := zstdDecoder.DecodeAll(vecBlock, nil)
	if err != nil {
		return nil, "", fmt.Errorf("decode segment vectors: %w", err)
	}
	if uint32(len(vecs)) != dim*count*4 {
		return nil, "", fmt.Errorf("decode segment: vector block holds %d bytes, want %d", len(vecs), dim*count*4)
	}
	recs, err := zstdDecoder.DecodeAll(recBlock, nil)
	if err != nil {
		return nil, "", fmt.Errorf("decode segment records: %w", err)
	}
	var dtos []recordDTO
	if err := json.Unmarshal(recs, &dtos); err != nil {
		return nil, "", fmt.Errorf("decode segment records: %w", err)
	}
	if uint32(len(dtos)) != count {
		return nil, "", fmt.Errorf("decode segment: %d records, header says %d", len(dtos), count)
	}

	snap := &snapshot{
		count:   int(count),
		vectors: make([]float32, dim*count),
		records: make([]patch.Record, count),
		levels:  map[int]*roaring.Bitmap{},
	}
	for i := range snap.vectors {
		snap.vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(vecs[i*4:]))
	}
	for i, dto := range dtos {
		if dto.ID != uint32(i) {
			return nil, "", fmt.Errorf("decode segment: record %d carries id %d", i, dto.ID)
		}
		bbox := region.Reconstruct(dto.X, dto.Y, dto.Width, dto.Height)
		snap.records[i] = patch.Reconstruct(dto.ID, bbox, dto.Level, dto.Quality)
		bm, ok := snap.levels[dto.Level]
		if !ok {
			bm = roaring.New()
			snap.levels[dto.Level] = bm
		}
		bm.Add(dto.ID)
	}

	idx := &Index{dim: int(dim)}
	idx.state.Store(snap)
	return idx, string(model), nil
}

type segmentReader struct {
	data []byte
	off  int
}

func (r *segmentReader) read(dst []byte) error {
	if r.off+len(dst) > len(r.data) {
		return fmt.Errorf("truncated at offset %d", r.off)
	}
	copy(dst, r.data[r.off:])
	r.off += len(dst)
	return nil
}

func (r *segmentReader) uint32() (uint32, error) {
	var b [4]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *segmentReader) block() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.data) {
		return nil, fmt.Errorf("truncated at offset %d", r.off)
	}
	out := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return out, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
