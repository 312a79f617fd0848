package netmon

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/fieldsync/internal/auth"
)

// Dial opens a lazy client connection to the sync server. Every call
// carries the token returned by token().
func Dial(addr string, token func() string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(auth.UnaryClientInterceptor(token)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// GRPCHealthPinger probes the standard gRPC health service.
type GRPCHealthPinger struct {
	client  healthpb.HealthClient
	service string
}

func NewGRPCHealthPinger(conn grpc.ClientConnInterface, service string) *GRPCHealthPinger {
	return &GRPCHealthPinger{client: healthpb.NewHealthClient(conn), service: service}
}

func (p *GRPCHealthPinger) Ping(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server status %s", resp.GetStatus())
	}
	return nil
}
