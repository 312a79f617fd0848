package netmon

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

func TestSetOnline_NotifiesOnTransitionOnly(t *testing.T) {
	m := New(false, logging.Nop())

	var got []bool
	unsubscribe := m.Subscribe(func(online bool) { got = append(got, online) })

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(false)
	assert.Equal(t, []bool{true, false}, got)
	assert.False(t, m.IsOnline())

	unsubscribe()
	unsubscribe()
	m.SetOnline(true)
	assert.Len(t, got, 2)
	assert.True(t, m.IsOnline())
}

func TestWatch_FollowsPinger(t *testing.T) {
	m := New(false, logging.Nop())

	var fail atomic.Bool
	p := PingerFunc(func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("unreachable")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, 5*time.Millisecond, p)
		close(done)
	}()

	require.Eventually(t, m.IsOnline, time.Second, time.Millisecond)

	fail.Store(true)
	require.Eventually(t, func() bool { return !m.IsOnline() }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus, seen *atomic.Value) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hs := health.NewServer()
	hs.SetServingStatus("", status)

	srv := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		seen.Store(md.Get(common.AccessTokenHeaderName))
		return handler(ctx, req)
	}))
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func TestGRPCHealthPinger(t *testing.T) {
	var seen atomic.Value
	addr := startHealthServer(t, healthpb.HealthCheckResponse_SERVING, &seen)

	conn, err := Dial(addr, func() string { return "tok" })
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	p := NewGRPCHealthPinger(conn, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Ping(ctx))
	assert.Equal(t, []string{"tok"}, seen.Load())
}

func TestGRPCHealthPinger_NotServing(t *testing.T) {
	var seen atomic.Value
	addr := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING, &seen)

	conn, err := Dial(addr, func() string { return "" })
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = NewGRPCHealthPinger(conn, "").Ping(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SERVING")
}
