package inferrpc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/sparsebev/internal/transport"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// Output is a decoded Infer response.
type Output struct {
	Data     []float32
	Checksum string
	Shape    string
	// Dims is Shape parsed as (channels, rows, cols).
	Dims [3]int
}

// Client calls the Backbone service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens an insecure connection to target sized for maxMsgBytes
// messages. The caller closes the returned connection.
func Dial(target string, maxMsgBytes int, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgBytes),
			grpc.MaxCallSendMsgSize(maxMsgBytes),
		),
	}, opts...)
	return grpc.NewClient(target, opts...)
}

// Infer sends a sparse voxel input.
func (c *Client) Infer(ctx context.Context, in *voxel.Tensor, opts ...grpc.CallOption) (*Output, error) {
	return c.invoke(ctx, FormatVoxels, transport.EncodeVoxels(in), opts...)
}

// InferFeatures sends a bare feature matrix that the server places at the
// probe coordinate.
func (c *Client) InferFeatures(ctx context.Context, feats []float32, opts ...grpc.CallOption) (*Output, error) {
	return c.invoke(ctx, FormatFeatures, transport.EncodeFloats(feats), opts...)
}

func (c *Client) invoke(ctx context.Context, format string, payload []byte, opts ...grpc.CallOption) (*Output, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, FormatKey, format)
	var hdr metadata.MD
	out := new(wrapperspb.BytesValue)
	opts = append(opts, grpc.Header(&hdr))
	if err := c.cc.Invoke(ctx, InferMethod, wrapperspb.Bytes(payload), out, opts...); err != nil {
		return nil, err
	}
	return decodeOutput(hdr, out.GetValue())
}

// decodeOutput checks payload against the dimensions announced in hdr
// before decoding it.
func decodeOutput(hdr metadata.MD, payload []byte) (*Output, error) {
	v := hdr.Get(ShapeKey)
	if len(v) == 0 {
		return nil, errors.New("decode response: missing " + ShapeKey + " header")
	}
	dims, err := parseShape(v[0])
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	n := dims[0] * dims[1] * dims[2]
	if len(payload) != 4*n {
		return nil, fmt.Errorf("decode response: %w: got %d bytes, shape %s needs %d",
			transport.ErrLengthMismatch, len(payload), v[0], 4*n)
	}
	data, err := transport.DecodeFloats(payload)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	o := &Output{Data: data, Shape: v[0], Dims: dims}
	if v := hdr.Get(ChecksumKey); len(v) > 0 {
		o.Checksum = v[0]
	}
	return o, nil
}

// parseShape reads a "channels,rows,cols" header value.
func parseShape(s string) ([3]int, error) {
	var dims [3]int
	parts := strings.Split(s, ",")
	if len(parts) != len(dims) {
		return dims, fmt.Errorf("shape %q: want 3 comma-separated dimensions", s)
	}
	for i, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil || d < 0 {
			return dims, fmt.Errorf("shape %q: bad dimension %q", s, p)
		}
		dims[i] = d
	}
	return dims, nil
}
