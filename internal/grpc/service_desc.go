package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	verifyTokenMethod = "/" + ServiceName + "/VerifyToken"
	getAccountMethod  = "/" + ServiceName + "/GetAccount"
	existsMethod      = "/" + ServiceName + "/Exists"
)

// IdentityQueryServiceDesc describes the identity query service. Messages are
// protobuf well-known types so no generated code is needed.
var IdentityQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IdentityQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "VerifyToken", Handler: verifyTokenHandler},
		{MethodName: "GetAccount", Handler: getAccountHandler},
		{MethodName: "Exists", Handler: existsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "schooldesk/identity/v1/identity.proto",
}

func RegisterIdentityQueryServer(s grpc.ServiceRegistrar, srv IdentityQueryServer) {
	s.RegisterService(&IdentityQueryServiceDesc, srv)
}

func verifyTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityQueryServer).VerifyToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: verifyTokenMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IdentityQueryServer).VerifyToken(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getAccountHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityQueryServer).GetAccount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getAccountMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IdentityQueryServer).GetAccount(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func existsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityQueryServer).Exists(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: existsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IdentityQueryServer).Exists(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

// IdentityQueryClient calls the identity query service.
type IdentityQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewIdentityQueryClient(cc grpc.ClientConnInterface) *IdentityQueryClient {
	return &IdentityQueryClient{cc: cc}
}

func (c *IdentityQueryClient) VerifyToken(ctx context.Context, token string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, verifyTokenMethod, wrapperspb.String(token), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityQueryClient) GetAccount(ctx context.Context, accountID int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getAccountMethod, wrapperspb.Int64(accountID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityQueryClient) Exists(ctx context.Context, accountID int64, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, existsMethod, wrapperspb.Int64(accountID), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
