package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/nemanja-m/goparallel/internal/shared/config"
	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/internal/worker/service"
)

type Server struct {
	grpcServer *grpc.Server
	logger     logging.Logger
}

func NewServer(cfg config.WorkerGRPCConfig, executor service.TaskExecutor, logger logging.Logger) *Server {
	minTime := cfg.KeepaliveTime / 2
	if minTime <= 0 {
		minTime = 5 * time.Second
	}
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             minTime,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(logger),
			RecoveryInterceptor(logger),
		),
	)

	RegisterWorkerServer(grpcServer, NewWorkerService(executor, logger))

	return &Server{
		grpcServer: grpcServer,
		logger:     logger,
	}
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// LoggingInterceptor logs every call with its duration.
func LoggingInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Error("gRPC call failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		} else {
			logger.Debug("gRPC call", "method", info.FullMethod, "duration", time.Since(start))
		}
		return resp, err
	}
}

// RecoveryInterceptor turns a panic in a handler into an Internal status.
func RecoveryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC panic recovered", "method", info.FullMethod, "panic", r)
				err = status.Errorf(codes.Internal, "panic: %v", r)
			}
		}()
		return handler(ctx, req)
	}
}
