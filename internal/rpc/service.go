// Package rpc serves insights to internal consumers over gRPC. Messages
// are google.protobuf.Struct so no generated stubs are needed.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName       = "calendar.v1.Insights"
	MethodGetSummary  = "/" + ServiceName + "/GetSummary"
	MethodGetProgress = "/" + ServiceName + "/GetProgress"
)

type InsightsServer interface {
	GetSummary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var InsightsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InsightsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSummary", Handler: unary(MethodGetSummary, InsightsServer.GetSummary)},
		{MethodName: "GetProgress", Handler: unary(MethodGetProgress, InsightsServer.GetProgress)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "calendar/v1/insights.proto",
}

type methodFunc func(InsightsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, call methodFunc) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InsightsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InsightsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// InsightsClient calls the service from Go.
type InsightsClient struct {
	cc grpc.ClientConnInterface
}

func NewInsightsClient(cc grpc.ClientConnInterface) *InsightsClient {
	return &InsightsClient{cc: cc}
}

func (c *InsightsClient) GetSummary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetSummary, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InsightsClient) GetProgress(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetProgress, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
