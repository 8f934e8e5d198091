package inferrpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/pipeline"
	"github.com/banshee-data/sparsebev/internal/transport"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// Ensure Server implements the gRPC interface.
var _ BackboneServer = (*Server)(nil)

// Server implements the Backbone service on top of a pipeline.
type Server struct {
	p *pipeline.Pipeline

	// OnResult, when set, observes every successful run.
	OnResult func(context.Context, *pipeline.Result)
}

// NewServer creates a server for p.
func NewServer(p *pipeline.Pipeline) *Server {
	return &Server{p: p}
}

// Infer decodes the request, runs the pipeline and returns the BEV buffer.
func (s *Server) Infer(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	in, err := s.decode(ctx, req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.p.Run(ctx, in)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case errors.Is(err, voxel.ErrChannelMismatch):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		monitoring.Diagf("rpc", "Infer failed: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}

	hdr := metadata.Pairs(
		ChecksumKey, res.Checksum,
		ShapeKey, fmt.Sprintf("%d,%d,%d", res.BEV.Channels, res.BEV.Rows, res.BEV.Cols),
	)
	if err := grpc.SetHeader(ctx, hdr); err != nil {
		monitoring.Diagf("rpc", "failed to set response header: %v", err)
	}
	if s.OnResult != nil {
		s.OnResult(ctx, res)
	}
	monitoring.Diagf("rpc", "Infer: %d input voxels, checksum %.12s in %v", in.Len(), res.Checksum, res.Duration)
	return wrapperspb.Bytes(transport.EncodeFloats(res.BEV.Data)), nil
}

func (s *Server) decode(ctx context.Context, b []byte) (*voxel.Tensor, error) {
	arch := s.p.Backbone().Architecture()
	format := FormatVoxels
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(FormatKey); len(v) > 0 {
			format = v[0]
		}
	}

	switch format {
	case FormatVoxels:
		in, dropped, err := transport.DecodeVoxels(b, arch.Input, arch.InputChannels())
		if err != nil {
			return nil, err
		}
		if dropped > 0 {
			monitoring.Diagf("rpc", "dropped %d voxels outside %v", dropped, arch.Input)
		}
		return in, nil
	case FormatFeatures:
		feats, err := transport.DecodeFloats(b)
		if err != nil {
			return nil, err
		}
		return transport.VoxelsFromFeatures(feats, arch.Input, arch.InputChannels())
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

// Serve runs a gRPC server for srv on lis until ctx is cancelled, then
// stops it gracefully. maxMsgBytes bounds both directions.
func Serve(ctx context.Context, lis net.Listener, srv *Server, maxMsgBytes int) error {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgBytes),
		grpc.MaxSendMsgSize(maxMsgBytes),
	)
	RegisterBackboneServer(gs, srv)

	errCh := make(chan error, 1)
	go func() {
		monitoring.Diagf("rpc", "listening on %s", lis.Addr())
		errCh <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		<-errCh
		monitoring.Diagf("rpc", "server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
