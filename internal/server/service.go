package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ppiankov/carewatch/internal/api"
	"github.com/ppiankov/carewatch/internal/model"
)

// GovernanceServer is the server-side contract of GovernanceService.
type GovernanceServer interface {
	Handle(context.Context, *api.HandleRequest) (*model.Response, error)
	Step(context.Context, *api.StepRequest) (*api.StepResponse, error)
	Dispatch(context.Context, *api.DispatchRequest) (*model.DispatchResult, error)
	Operations(context.Context, *api.OperationsRequest) (*api.OperationsResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*GovernanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handle", Handler: unary(api.MethodHandle, GovernanceServer.Handle)},
		{MethodName: "Step", Handler: unary(api.MethodStep, GovernanceServer.Step)},
		{MethodName: "Dispatch", Handler: unary(api.MethodDispatch, GovernanceServer.Dispatch)},
		{MethodName: "Operations", Handler: unary(api.MethodOperations, GovernanceServer.Operations)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "carewatch/v1/governance",
}

// unary adapts a typed method into a grpc.MethodHandler.
func unary[Req, Resp any](fullMethod string, call func(GovernanceServer, context.Context, *Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GovernanceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GovernanceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
