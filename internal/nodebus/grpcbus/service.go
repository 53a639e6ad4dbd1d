package grpcbus

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// serviceServer is the interface a generated grpc server stub would
// normally expose; here it is hand-declared because the wire messages
// are structpb.Struct envelopes rather than protoc-generated types
// (see envelope.go).
type serviceServer interface {
	Call(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Read(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Write(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

func unaryHandler(name string, call func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kitchen.NodeBus/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(serviceServer).Subscribe(req, stream)
}

// ServiceDesc is the hand-authored equivalent of what
// protoc-gen-go-grpc would emit for a "NodeBus" service with Call,
// Read, Write (unary) and Subscribe (server-streaming) methods.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "kitchen.NodeBus",
	HandlerType: (*serviceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Call", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(serviceServer).Call(ctx, req)
		}),
		unaryHandler("Read", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(serviceServer).Read(ctx, req)
		}),
		unaryHandler("Write", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(serviceServer).Write(ctx, req)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "nodebus.proto",
}
