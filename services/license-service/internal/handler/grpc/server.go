package grpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
)

// NewServer создает gRPC сервер с LicenseService и стандартным health сервисом
func NewServer(h *Handler, healthServer *health.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(h.recoveryInterceptor, traceInterceptor),
	}, opts...)

	s := grpc.NewServer(opts...)
	RegisterLicenseServiceServer(s, h)
	healthpb.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// traceInterceptor кладет в контекст x-request-id из метаданных или новый идентификатор
func traceInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	traceID := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("x-request-id"); len(values) > 0 {
			traceID = values[0]
		}
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return handler(logger.WithTraceID(ctx, traceID), req)
}

func (h *Handler) recoveryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.Logger().Error("Panic in gRPC handler",
				logger.CtxField(ctx),
				logger.String("method", info.FullMethod),
				logger.String("panic", fmt.Sprint(recovered)))
			err = errors.New(errors.ErrInternal, "internal server error").ToGRPCErr()
		}
	}()
	return handler(ctx, req)
}
