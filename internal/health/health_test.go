package health

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"voxelstrike/netcore/internal/logging"
)

func startService(t *testing.T, opts ...Option) (*Service, healthpb.HealthClient) {
	t.Helper()
	listener := bufconn.Listen(1 << 16)
	svc := New(append([]Option{WithLogger(logging.NewTestLogger())}, opts...)...)
	go func() { _ = svc.Serve(listener) }()
	t.Cleanup(svc.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return svc, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, ctx context.Context, client healthpb.HealthClient, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func TestServingFollowsLoopState(t *testing.T) {
	svc, client := startService(t)
	ctx := context.Background()

	if got, err := check(t, ctx, client, ServiceName); err != nil || got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before start, got %v %v", got, err)
	}
	svc.SetServing(true)
	if got, err := check(t, ctx, client, ""); err != nil || got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING while running, got %v %v", got, err)
	}
	svc.SetServing(false)
	if got, err := check(t, ctx, client, ServiceName); err != nil || got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %v %v", got, err)
	}
	if _, err := check(t, ctx, client, "unknown.Service"); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for an unknown service, got %v", err)
	}
}

func TestSharedSecretGuardsChecks(t *testing.T) {
	svc, client := startService(t, WithSharedSecret("s3cret"))
	svc.SetServing(true)

	if _, err := check(t, context.Background(), client, ""); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without a secret, got %v", err)
	}
	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer nope")
	if _, err := check(t, bad, client, ""); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for a wrong secret, got %v", err)
	}
	good := metadata.AppendToOutgoingContext(context.Background(), sharedSecretMetadataKey, "s3cret")
	if got, err := check(t, good, client, ""); err != nil || got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING with the secret, got %v %v", got, err)
	}
}
