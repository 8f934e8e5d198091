// Package inferrpc exposes the voxel backbone as a unary gRPC service.
//
// Requests and responses are google.protobuf.BytesValue messages carrying
// the transport encodings: voxel records (or a bare feature matrix) in, the
// little-endian float32 BEV buffer out.
package inferrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "sparsebev.Backbone"
	// InferMethod is the full method path of Infer.
	InferMethod = "/" + ServiceName + "/Infer"

	// FormatKey is the request metadata key selecting the input encoding.
	FormatKey = "x-input-format"
	// ChecksumKey is the response header carrying the output checksum.
	ChecksumKey = "x-bev-checksum"
	// ShapeKey is the response header carrying the output dimensions.
	ShapeKey = "x-bev-shape"
)

// Input encodings accepted under FormatKey.
const (
	FormatVoxels   = "voxels"
	FormatFeatures = "features"
)

// BackboneServer is the server API for the Backbone service.
type BackboneServer interface {
	Infer(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// RegisterBackboneServer registers srv on s.
func RegisterBackboneServer(s grpc.ServiceRegistrar, srv BackboneServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func inferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BackboneServer).Infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: InferMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BackboneServer).Infer(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the Backbone service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BackboneServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Infer",
			Handler:    inferHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sparsebev/backbone.proto",
}
