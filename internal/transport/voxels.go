package transport

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/sparsebev/internal/voxel"
)

// ProbeCoord is where VoxelsFromFeatures places every feature row: the
// centre of the nominal (1440, 1440, 41) input extent.
var ProbeCoord = voxel.Coord{720, 720, 20}

// RecordSize is the encoded size of one voxel row with the given channel
// count: three int32 coordinates then the float32 features.
func RecordSize(channels int) int { return 12 + 4*channels }

// EncodeVoxels serialises the rows of t in order.
func EncodeVoxels(t *voxel.Tensor) []byte {
	b := make([]byte, 0, t.Len()*RecordSize(t.Channels()))
	for i := 0; i < t.Len(); i++ {
		c := t.Coord(i)
		for _, v := range c {
			b = binary.LittleEndian.AppendUint32(b, uint32(v))
		}
		b = AppendFloats(b, t.Feature(i))
	}
	return b
}

// DecodeVoxels parses rows written by EncodeVoxels into a tensor of the
// given extent. Rows outside shape are dropped and counted.
func DecodeVoxels(b []byte, shape voxel.Shape, channels int) (*voxel.Tensor, int, error) {
	if channels <= 0 {
		return nil, 0, fmt.Errorf("channels must be positive, got %d", channels)
	}
	rs := RecordSize(channels)
	if len(b)%rs != 0 {
		return nil, 0, fmt.Errorf("%w: %d bytes is not a multiple of the %d-byte record", ErrLengthMismatch, len(b), rs)
	}
	entries := make([]voxel.Entry, len(b)/rs)
	for i := range entries {
		rec := b[i*rs : (i+1)*rs]
		var c voxel.Coord
		for j := range c {
			c[j] = int32(binary.LittleEndian.Uint32(rec[4*j:]))
		}
		feat := make([]float32, channels)
		for j := range feat {
			feat[j] = math.Float32frombits(binary.LittleEndian.Uint32(rec[12+4*j:]))
		}
		entries[i] = voxel.Entry{Coord: c, Feature: feat}
	}
	return voxel.FromEntries(shape, channels, entries)
}

// VoxelsFromFeatures turns a bare (N, channels) feature matrix into N rows
// at ProbeCoord. Duplicate rows are kept, so the backbone sums them.
func VoxelsFromFeatures(feats []float32, shape voxel.Shape, channels int) (*voxel.Tensor, error) {
	if channels <= 0 || len(feats)%channels != 0 {
		return nil, fmt.Errorf("%w: %d values do not form rows of %d channels", ErrLengthMismatch, len(feats), channels)
	}
	if !shape.Contains(ProbeCoord) {
		return nil, fmt.Errorf("probe coordinate %v outside extent %v", ProbeCoord, shape)
	}
	n := len(feats) / channels
	entries := make([]voxel.Entry, n)
	for i := range entries {
		entries[i] = voxel.Entry{Coord: ProbeCoord, Feature: feats[i*channels : (i+1)*channels]}
	}
	t, _, err := voxel.FromEntries(shape, channels, entries)
	return t, err
}
