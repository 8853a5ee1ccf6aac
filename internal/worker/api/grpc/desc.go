package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "goparallel.worker.v1.Worker"
	ExecuteMethod = "/" + ServiceName + "/Execute"
)

// WorkerServer executes one encoded task and returns the encoded result.
// Payloads are wire-encoded structpb.Struct messages.
type WorkerServer interface {
	Execute(ctx context.Context, task *structpb.Struct) (*structpb.Struct, error)
}

func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&WorkerServiceDesc, srv)
}

var WorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "goparallel/worker/v1/worker.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExecuteMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
