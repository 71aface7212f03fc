package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sokopay/facepay-core/internal/application"
)

// FacePayInternalService is the service-to-service surface: sibling services
// validate terminal tokens and fetch signing keys here instead of sharing
// key material.
type FacePayInternalService interface {
	ValidateTerminalToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPublicKeys(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type FacePayInternalServer struct {
	service *application.Service
}

func NewFacePayInternalServer(service *application.Service) *FacePayInternalServer {
	return &FacePayInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc FacePayInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "sokopay.facepay.v1.FacePayInternalService",
		HandlerType: (*FacePayInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ValidateTerminalToken",
				Handler:    validateTerminalTokenHandler(svc),
			},
			{
				MethodName: "GetPublicKeys",
				Handler:    getPublicKeysHandler(svc),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "sokopay/proto/facepay/v1/facepay_internal.proto",
	}, svc)
}

func (s *FacePayInternalServer) ValidateTerminalToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tokenVal := req.GetFields()["token"]
	if tokenVal == nil {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}
	token := tokenVal.GetStringValue()
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}

	claims, err := s.service.AuthenticateToken(ctx, token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	resp, err := structpb.NewStruct(map[string]any{
		"valid":       true,
		"terminal_id": claims.TerminalID,
		"store_id":    claims.StoreID.String(),
		"operator":    claims.Operator,
		"expires_at":  claims.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *FacePayInternalServer) GetPublicKeys(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	keys, err := s.service.PublicJWKs()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get keys: %v", err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"keys": keys,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func validateTerminalTokenHandler(svc FacePayInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.ValidateTerminalToken(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/sokopay.facepay.v1.FacePayInternalService/ValidateTerminalToken",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.ValidateTerminalToken(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func getPublicKeysHandler(svc FacePayInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &emptypb.Empty{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.GetPublicKeys(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/sokopay.facepay.v1.FacePayInternalService/GetPublicKeys",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*emptypb.Empty)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.GetPublicKeys(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
