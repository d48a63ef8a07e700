package client

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/bellhop/pkg/api"
	"github.com/cuemby/bellhop/pkg/config"
	"github.com/cuemby/bellhop/pkg/manager"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var orders = types.BoardKey{TenantID: "t1", Kind: types.KindOrder}

func newNode(t *testing.T) (*Client, *api.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.PollInterval = time.Hour
	cfg.Records = config.RecordsConfig{Backend: "memory"}
	cfg.Ledger = config.LedgerConfig{Backend: "memory"}
	cfg.Notify.Transport = "none"

	mgr, err := manager.NewManager(cfg)
	require.NoError(t, err)
	srv := api.NewServer(mgr, "test")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
		mgr.Shutdown()
	})
	return NewClient(ts.URL), srv
}

func TestNewClientAddsScheme(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", NewClient("127.0.0.1:8080").baseURL)
	assert.Equal(t, "https://bellhop.example.com", NewClient("https://bellhop.example.com/").baseURL)
}

func TestBoardRoundTrip(t *testing.T) {
	c, _ := newNode(t)
	ctx := context.Background()

	_, err := c.Alert(ctx, orders)
	assert.ErrorIs(t, err, types.ErrNotFound)

	alert, err := c.Open(ctx, orders)
	require.NoError(t, err)
	assert.Equal(t, types.AlertIdle, alert.State)

	boards, err := c.Boards(ctx)
	require.NoError(t, err)
	assert.Equal(t, []api.BoardView{{Tenant: "t1", Kind: "order"}}, boards)

	doc, err := c.AddRecord(ctx, orders, &types.RecordDoc{ID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, "new", doc.Status)

	alert, err = c.Alert(ctx, orders)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, alert.Active)

	_, err = c.Transition(ctx, orders, "o1", "rejected", "", "")
	assert.ErrorIs(t, err, types.ErrMissingReason)

	_, err = c.Transition(ctx, orders, "o1", "completed", "", "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	doc, err = c.Transition(ctx, orders, "o1", "rejected", "too_busy", "kitchen closed early")
	require.NoError(t, err)
	assert.Equal(t, "rejected", doc.Status)
	assert.Equal(t, "too_busy", doc.RejectReason)

	records, err := c.Records(ctx, orders)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, c.Close(ctx, orders))
}

func TestDismissAndHandle(t *testing.T) {
	c, _ := newNode(t)
	ctx := context.Background()
	_, err := c.Open(ctx, orders)
	require.NoError(t, err)
	_, err = c.AddRecord(ctx, orders, &types.RecordDoc{ID: "o2"})
	require.NoError(t, err)

	alert, err := c.Dismiss(ctx, orders)
	require.NoError(t, err)
	assert.Equal(t, types.AlertSuppressed, alert.State)

	alert, err = c.Handle(ctx, orders, "o2")
	require.NoError(t, err)
	assert.Equal(t, types.AlertIdle, alert.State)
}

func TestLedger(t *testing.T) {
	c, _ := newNode(t)
	entries, err := c.Ledger(context.Background(), "t1", true)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckBoard(t *testing.T) {
	_, srv := newNode(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	go srv.StartGRPC(addr)
	srv.Health().Set(orders, healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var status string
	require.Eventually(t, func() bool {
		status, err = CheckBoard(ctx, addr, orders)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "SERVING", status)
}
