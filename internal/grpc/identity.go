package grpc

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"schooldesk/auth-identity/internal/auth"
	"schooldesk/auth-identity/internal/model"
	"schooldesk/auth-identity/internal/service"
)

const ServiceName = "schooldesk.identity.v1.IdentityQuery"

// Identity is what internal callers may ask about accounts.
type Identity interface {
	Authenticate(ctx context.Context, token string) (model.Account, error)
	GetAccount(ctx context.Context, accountID int64) (service.AccountView, error)
	Exists(ctx context.Context, accountID int64) (bool, error)
}

// IdentityQueryServer is implemented by IdentityServer.
type IdentityQueryServer interface {
	VerifyToken(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetAccount(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	Exists(context.Context, *wrapperspb.Int64Value) (*wrapperspb.BoolValue, error)
}

type IdentityServer struct {
	identity Identity
	log      logrus.FieldLogger
}

func NewIdentityServer(identity Identity, log logrus.FieldLogger) *IdentityServer {
	return &IdentityServer{identity: identity, log: log}
}

// NewServer builds a gRPC server with the identity and health services
// registered behind the service token interceptor.
func NewServer(identity Identity, serviceToken string, log logrus.FieldLogger) (*grpc.Server, error) {
	interceptor, err := NewServiceAuthUnaryInterceptor(serviceToken)
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptor))
	RegisterIdentityQueryServer(server, NewIdentityServer(identity, log))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, nil
}

func (s *IdentityServer) VerifyToken(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "token required")
	}
	account, err := s.identity.Authenticate(ctx, req.GetValue())
	if err != nil {
		return nil, s.statusError(err)
	}
	return toStruct(account)
}

func (s *IdentityServer) GetAccount(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	if req.GetValue() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "account id required")
	}
	view, err := s.identity.GetAccount(ctx, req.GetValue())
	if err != nil {
		return nil, s.statusError(err)
	}
	return toStruct(view)
}

func (s *IdentityServer) Exists(ctx context.Context, req *wrapperspb.Int64Value) (*wrapperspb.BoolValue, error) {
	if req.GetValue() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "account id required")
	}
	exists, err := s.identity.Exists(ctx, req.GetValue())
	if err != nil {
		return nil, s.statusError(err)
	}
	return wrapperspb.Bool(exists), nil
}

func (s *IdentityServer) statusError(err error) error {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, "token_expired")
	case errors.Is(err, auth.ErrTokenInvalid):
		return status.Error(codes.Unauthenticated, "invalid_token")
	case errors.Is(err, service.ErrAccountNotFound):
		return status.Error(codes.Unauthenticated, "account_not_found")
	case errors.Is(err, errors.NotFound):
		return status.Error(codes.NotFound, "account_not_found")
	default:
		s.log.WithError(err).Error("identity query failed")
		return status.Error(codes.Internal, "lookup_failed")
	}
}

// toStruct converts any JSON-serialisable value into a protobuf Struct.
func toStruct(value interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode_failed")
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Error(codes.Internal, "encode_failed")
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode_failed")
	}
	return out, nil
}
