package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"strata/domain/model"
	"strata/infra/memory"
	"strata/service"
)

func startServer(t *testing.T) (*service.ModelService, *Client) {
	t.Helper()
	alloc, err := memory.New(memory.Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})
	require.NoError(t, err)
	svc := service.NewModelService(model.NewStore(model.WithAllocator(alloc)))

	srv := grpc.NewServer(ServerOptions(zerolog.Nop())...)
	RegisterModelServer(srv, NewServer(svc, zerolog.Nop()))
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		_ = lis.Close()
	})
	return svc, NewClient(conn, alloc)
}

func TestGetSetList(t *testing.T) {
	svc, c := startServer(t)
	ctx := t.Context()
	_, err := svc.Declare(ctx, "/rig/temp", 20.0)
	require.NoError(t, err)
	_, err = svc.Declare(ctx, "/rig/count", int64(1))
	require.NoError(t, err)

	serial, err := c.Set(ctx, "/rig/temp", 21.5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, serial)

	nv, err := c.Get(ctx, "/rig/temp")
	require.NoError(t, err)
	assert.Equal(t, service.NodeValue{Path: "/rig/temp", Kind: service.KindFloat, Serial: 2, Value: 21.5}, nv)

	_, err = c.Set(ctx, "/rig/count", int64(1<<62))
	require.NoError(t, err)
	nodes, err := c.List(ctx, "/rig")
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "/rig", nodes[0].Path)
	assert.Equal(t, int64(1<<62), nodes[2].Value)
}

func TestErrorCodes(t *testing.T) {
	svc, c := startServer(t)
	ctx := t.Context()
	_, err := svc.Declare(ctx, "/flag", true)
	require.NoError(t, err)

	_, err = c.Get(ctx, "/missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Set(ctx, "/flag", "yes")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Get(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestWatchStreamsChanges(t *testing.T) {
	svc, c := startServer(t)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, err := svc.Declare(ctx, "/status", "idle")
	require.NoError(t, err)

	w, err := c.Watch(ctx, "/status")
	require.NoError(t, err)

	first, err := w.Recv()
	require.NoError(t, err)
	assert.Equal(t, "idle", first.Value)

	_, err = svc.Set(ctx, "/status", "busy")
	require.NoError(t, err)
	next, err := w.Recv()
	require.NoError(t, err)
	assert.Equal(t, "busy", next.Value)
	assert.EqualValues(t, 2, next.Serial)
}

func TestPanickingHandlerBecomesInternal(t *testing.T) {
	call := func() (err error) {
		defer recoverTo(zerolog.Nop(), "/strata.v1.Model/Set", &err)
		panic(model.ErrReleased)
	}
	err := call()
	assert.Equal(t, codes.Internal, status.Code(err))
}
