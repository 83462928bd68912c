package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "callassist.v1.AssistService"

// Full method names, usable with grpc.ClientConn.Invoke and NewStream.
const (
	MethodStartSession        = "/" + ServiceName + "/StartSession"
	MethodEndSession          = "/" + ServiceName + "/EndSession"
	MethodSubmitChunk         = "/" + ServiceName + "/SubmitChunk"
	MethodGetLatestAssistance = "/" + ServiceName + "/GetLatestAssistance"
	MethodStreamAssistance    = "/" + ServiceName + "/StreamAssistance"
)

// AssistServer is the server API of callassist.v1.AssistService. Every
// message is a google.protobuf.Struct.
type AssistServer interface {
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitChunk(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLatestAssistance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamAssistance(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes callassist.v1.AssistService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AssistServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartSession", MethodStartSession, AssistServer.StartSession),
		unary("EndSession", MethodEndSession, AssistServer.EndSession),
		unary("SubmitChunk", MethodSubmitChunk, AssistServer.SubmitChunk),
		unary("GetLatestAssistance", MethodGetLatestAssistance, AssistServer.GetLatestAssistance),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamAssistance",
			Handler:       streamAssistanceHandler,
			ServerStreams: true,
		},
	},
	Metadata: "callassist/v1/assist.proto",
}

type unaryMethod func(AssistServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name, fullMethod string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(AssistServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func streamAssistanceHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AssistServer).StreamAssistance(in, stream)
}
