// Package health exposes the standard gRPC health service for the game
// server so orchestrators can probe it.
package health

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"voxelstrike/netcore/internal/logging"
)

// ServiceName is the per-service name reported alongside the overall status.
const ServiceName = "netcore.GameServer"

const sharedSecretMetadataKey = "x-netcore-admin-token"

// Service owns a gRPC server carrying the health service.
type Service struct {
	server *grpc.Server
	health *grpchealth.Server
	logger *logging.Logger
}

type options struct {
	secret string
	logger *logging.Logger
}

// Option customises the service.
type Option func(*options)

// WithSharedSecret requires callers to present secret as a bearer token or
// in the x-netcore-admin-token metadata.
func WithSharedSecret(secret string) Option {
	return func(o *options) { o.secret = strings.TrimSpace(secret) }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds the service. It reports NOT_SERVING until SetServing(true).
func New(opts ...Option) *Service {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = logging.L()
	}
	var serverOpts []grpc.ServerOption
	if o.secret != "" {
		serverOpts = append(serverOpts,
			grpc.ChainUnaryInterceptor(sharedSecretUnary(o.secret)),
			grpc.ChainStreamInterceptor(sharedSecretStream(o.secret)))
		o.logger.Info("gRPC shared-secret authentication enabled")
	}
	s := &Service{
		server: grpc.NewServer(serverOpts...),
		health: grpchealth.NewServer(),
		logger: o.logger,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the overall and per-service status.
func (s *Service) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Debug("health status changed", logging.String("status", status.String()))
}

// Serve blocks serving lis until Stop.
func (s *Service) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains the server.
func (s *Service) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func sharedSecretUnary(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkSecret(ctx, secret); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func sharedSecretStream(secret string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSecret(ss.Context(), secret); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkSecret(ctx context.Context, secret string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(sharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}
