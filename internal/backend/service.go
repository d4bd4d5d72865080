package backend

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vulnharness.backend.v1.ModelService"

// #region service-interface
// ModelServiceServer is the server side of the model service.
type ModelServiceServer interface {
	Forward(context.Context, *ForwardRequest) (*ForwardResponse, error)
	Backward(context.Context, *Empty) (*Empty, error)
	ZeroGrad(context.Context, *Empty) (*Empty, error)
	Step(context.Context, *Empty) (*Empty, error)
	SetTraining(context.Context, *SetTrainingRequest) (*Empty, error)
	GetState(context.Context, *Empty) (*StateBlob, error)
	LoadState(context.Context, *StateBlob) (*Empty, error)
	GetLR(context.Context, *Empty) (*LRMessage, error)
	SetLR(context.Context, *LRMessage) (*Empty, error)
	Info(context.Context, *Empty) (*InfoResponse, error)
}

// #endregion service-interface

// #region service-desc
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ModelServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Forward", ModelServiceServer.Forward),
		unary("Backward", ModelServiceServer.Backward),
		unary("ZeroGrad", ModelServiceServer.ZeroGrad),
		unary("Step", ModelServiceServer.Step),
		unary("SetTraining", ModelServiceServer.SetTraining),
		unary("GetState", ModelServiceServer.GetState),
		unary("LoadState", ModelServiceServer.LoadState),
		unary("GetLR", ModelServiceServer.GetLR),
		unary("SetLR", ModelServiceServer.SetLR),
		unary("Info", ModelServiceServer.Info),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vulnharness/backend/v1/model_service",
}

// RegisterModelServiceServer attaches srv to a gRPC server.
func RegisterModelServiceServer(s grpc.ServiceRegistrar, srv ModelServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary adapts a typed service method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(ModelServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ModelServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ModelServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// #endregion service-desc
