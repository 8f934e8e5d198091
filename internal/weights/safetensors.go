// Package weights persists backbone kernels in the safetensors layout:
// an 8-byte little-endian header length, a JSON header mapping tensor names
// to dtype, shape and data offsets, then the raw tensor bytes.
//
// Tensors are named after the layer they belong to ("conv0.weight",
// "conv0.bias", …). F32 and F16 payloads are accepted on load.
package weights

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/x448/float16"

	"github.com/banshee-data/sparsebev/internal/spconv"
)

// ErrShapeMismatch is returned when a stored tensor does not have the shape
// its layer expects.
var ErrShapeMismatch = errors.New("weights: tensor shape mismatch")

// DType names a stored element type.
type DType string

const (
	F32 DType = "F32"
	F16 DType = "F16"
)

func (d DType) size() int {
	switch d {
	case F32:
		return 4
	case F16:
		return 2
	}
	return 0
}

type tensorInfo struct {
	DType   DType  `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// Encode serialises one KernelWeights per spec, storing values as dtype.
func Encode(specs []spconv.ConvSpec, ws []spconv.KernelWeights, dtype DType) ([]byte, error) {
	if len(specs) != len(ws) {
		return nil, fmt.Errorf("got %d weight sets for %d layers", len(ws), len(specs))
	}
	if dtype.size() == 0 {
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}

	values := make(map[string][]float32, 2*len(specs))
	shapes := make(map[string][]int, 2*len(specs))
	for i, s := range specs {
		if err := ws[i].Check(s); err != nil {
			return nil, err
		}
		values[s.Name+".weight"] = ws[i].Weight
		shapes[s.Name+".weight"] = s.WeightShape()
		values[s.Name+".bias"] = ws[i].Bias
		shapes[s.Name+".bias"] = []int{s.OutChannels}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]tensorInfo, len(names))
	offset := 0
	for _, name := range names {
		n := len(values[name]) * dtype.size()
		header[name] = tensorInfo{DType: dtype, Shape: shapes[name], Offsets: [2]int{offset, offset + n}}
		offset += n
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	out := make([]byte, 8+len(headerJSON)+offset)
	binary.LittleEndian.PutUint64(out[:8], uint64(len(headerJSON)))
	copy(out[8:], headerJSON)
	data := out[8+len(headerJSON):]
	for _, name := range names {
		info := header[name]
		putValues(data[info.Offsets[0]:info.Offsets[1]], values[name], dtype)
	}
	return out, nil
}

// Decode reads the weights of every spec from a safetensors buffer.
func Decode(buf []byte, specs []spconv.ConvSpec) ([]spconv.KernelWeights, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("safetensors buffer too short: %d bytes", len(buf))
	}
	headerSize := binary.LittleEndian.Uint64(buf[:8])
	if headerSize > uint64(len(buf)-8) {
		return nil, fmt.Errorf("header size %d exceeds buffer of %d bytes", headerSize, len(buf))
	}

	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(buf[8:8+headerSize], &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	data := buf[8+headerSize:]

	read := func(name string, shape []int) ([]float32, error) {
		msg, ok := raw[name]
		if !ok {
			return nil, fmt.Errorf("tensor %q not found", name)
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		if !sameShape(info.Shape, shape) {
			return nil, fmt.Errorf("tensor %q has shape %v, want %v: %w", name, info.Shape, shape, ErrShapeMismatch)
		}
		size := info.DType.size()
		if size == 0 {
			return nil, fmt.Errorf("tensor %q: unsupported dtype %q", name, info.DType)
		}
		start, end := info.Offsets[0], info.Offsets[1]
		if start < 0 || end > len(data) || end-start != numel(shape)*size {
			return nil, fmt.Errorf("tensor %q: bad data offsets [%d, %d)", name, start, end)
		}
		return getValues(data[start:end], info.DType), nil
	}

	ws := make([]spconv.KernelWeights, len(specs))
	for i, s := range specs {
		w, err := read(s.Name+".weight", s.WeightShape())
		if err != nil {
			return nil, err
		}
		b, err := read(s.Name+".bias", []int{s.OutChannels})
		if err != nil {
			return nil, err
		}
		ws[i] = spconv.KernelWeights{Weight: w, Bias: b}
	}
	return ws, nil
}

// SaveFile writes weights to path as F32.
func SaveFile(path string, specs []spconv.ConvSpec, ws []spconv.KernelWeights) error {
	buf, err := Encode(specs, ws, F32)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// LoadFile reads the weights of every spec from the safetensors file at path.
func LoadFile(path string, specs []spconv.ConvSpec) ([]spconv.KernelWeights, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	return Decode(buf, specs)
}

func putValues(dst []byte, vs []float32, dtype DType) {
	switch dtype {
	case F16:
		for i, v := range vs {
			binary.LittleEndian.PutUint16(dst[2*i:], float16.Fromfloat32(v).Bits())
		}
	default:
		for i, v := range vs {
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
		}
	}
}

func getValues(src []byte, dtype DType) []float32 {
	n := len(src) / dtype.size()
	out := make([]float32, n)
	switch dtype {
	case F16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(src[2*i:])).Float32()
		}
	default:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
		}
	}
	return out
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
