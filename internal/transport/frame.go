// Package transport moves float32 buffers between addressed nodes over a
// byte stream and encodes sparse voxel inputs into those buffers.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrLengthMismatch is returned when a payload does not have the exact
	// byte length the receiver expects.
	ErrLengthMismatch = errors.New("transport: payload length mismatch")
	// ErrFrameTooLarge is returned when a header announces a payload above
	// the reader's limit.
	ErrFrameTooLarge = errors.New("transport: frame exceeds size limit")
)

// HeaderSize is the encoded size of a Header in bytes.
const HeaderSize = 20

// Endpoint is a node address on the mesh.
type Endpoint struct {
	X, Y int32
}

func (e Endpoint) String() string { return fmt.Sprintf("(%d,%d)", e.X, e.Y) }

// Host is the address of the node that feeds inputs and collects outputs.
var Host = Endpoint{0, 0}

// Header precedes every payload on the wire. All fields are little-endian.
type Header struct {
	Src    Endpoint
	Dst    Endpoint
	Length uint32 // payload bytes
}

func (h Header) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], uint32(h.Src.X))
	binary.LittleEndian.PutUint32(b[4:], uint32(h.Src.Y))
	binary.LittleEndian.PutUint32(b[8:], uint32(h.Dst.X))
	binary.LittleEndian.PutUint32(b[12:], uint32(h.Dst.Y))
	binary.LittleEndian.PutUint32(b[16:], h.Length)
}

func parseHeader(b []byte) Header {
	return Header{
		Src:    Endpoint{int32(binary.LittleEndian.Uint32(b[0:])), int32(binary.LittleEndian.Uint32(b[4:]))},
		Dst:    Endpoint{int32(binary.LittleEndian.Uint32(b[8:])), int32(binary.LittleEndian.Uint32(b[12:]))},
		Length: binary.LittleEndian.Uint32(b[16:]),
	}
}

// Frame is one addressed payload.
type Frame struct {
	Header
	Payload []byte
}

// WriteFrame writes payload from src to dst as a single frame.
func WriteFrame(w io.Writer, src, dst Endpoint, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var hdr [HeaderSize]byte
	Header{Src: src, Dst: dst, Length: uint32(len(payload))}.put(hdr[:])
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame, rejecting payloads larger than maxBytes.
// It blocks until the whole frame has arrived.
func ReadFrame(r io.Reader, maxBytes int) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	h := parseHeader(hdr[:])
	if maxBytes > 0 && int64(h.Length) > int64(maxBytes) {
		return Frame{}, fmt.Errorf("%w: %d bytes from %v (max %d)", ErrFrameTooLarge, h.Length, h.Src, maxBytes)
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("read payload from %v: %w", h.Src, err)
	}
	return Frame{Header: h, Payload: payload}, nil
}

// Floats decodes the payload as exactly n float32 values. A negative n
// accepts any whole number of values.
func (f Frame) Floats(n int) ([]float32, error) {
	if n >= 0 && len(f.Payload) != 4*n {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(f.Payload), 4*n)
	}
	return DecodeFloats(f.Payload)
}

// EncodeFloats returns vs as little-endian float32 bytes.
func EncodeFloats(vs []float32) []byte {
	return AppendFloats(make([]byte, 0, 4*len(vs)), vs)
}

// AppendFloats appends vs to b as little-endian float32 bytes.
func AppendFloats(b []byte, vs []float32) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

// DecodeFloats parses little-endian float32 bytes.
func DecodeFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 values", ErrLengthMismatch, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
