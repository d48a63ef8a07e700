package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/bellhop/pkg/config"
	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/manager"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var orders = types.BoardKey{TenantID: "t1", Kind: types.KindOrder}

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.DeviceID = "front-desk"
	cfg.PollInterval = time.Hour
	cfg.Records = config.RecordsConfig{Backend: "memory"}
	cfg.Ledger = config.LedgerConfig{Backend: "memory"}
	cfg.Notify.Transport = "none"

	mgr, err := manager.NewManager(cfg)
	require.NoError(t, err)
	srv := NewServer(mgr, "test")
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		mgr.Shutdown()
	})
	return srv, mgr
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func boardPath(board types.BoardKey, suffix string) string {
	return fmt.Sprintf("/v1/tenants/%s/%s%s", board.TenantID, board.Kind, suffix)
}

func TestHealthRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "health", method: http.MethodGet, path: "/health", want: http.StatusOK},
		{name: "health POST", method: http.MethodPost, path: "/health", want: http.StatusMethodNotAllowed},
		{name: "live", method: http.MethodGet, path: "/live", want: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{name: "ready PUT", method: http.MethodPut, path: "/ready", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, tt.path, nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestBoardNotOpen(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodGet, boardPath(orders, "/alert"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodGet, "/v1/tenants/t1/invoices/alert", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, boardPath(orders, "/open"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.AlertIdle, decode[AlertResponse](t, w).State)

	w = do(t, srv, http.MethodPost, boardPath(orders, "/records"), types.RecordDoc{
		ID:         "o1",
		Attributes: map[string]string{"customer_name": "Ana"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "new", decode[types.RecordDoc](t, w).Status)

	w = do(t, srv, http.MethodGet, boardPath(orders, "/alert"), nil)
	alert := decode[AlertResponse](t, w)
	assert.Equal(t, types.AlertAlerting, alert.State)
	assert.Equal(t, []string{"o1"}, alert.Active)

	w = do(t, srv, http.MethodPost, boardPath(orders, "/records/o1/transition"), TransitionRequest{Status: "CONFIRMED"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "confirmed", decode[types.RecordDoc](t, w).Status)

	w = do(t, srv, http.MethodGet, boardPath(orders, "/alert"), nil)
	assert.Equal(t, types.AlertIdle, decode[AlertResponse](t, w).State)

	w = do(t, srv, http.MethodGet, boardPath(orders, "/records"), nil)
	records := decode[RecordsResponse](t, w).Records
	require.Len(t, records, 1)
	assert.Equal(t, "confirmed", records[0].Status)
}

func TestTransitionErrors(t *testing.T) {
	srv, mgr := newTestServer(t)
	_, err := mgr.Open(context.Background(), orders)
	require.NoError(t, err)
	_, err = mgr.InsertRecord(context.Background(), &types.Record{ID: "o2", TenantID: "t1", Kind: types.KindOrder})
	require.NoError(t, err)

	tests := []struct {
		name string
		id   string
		req  TransitionRequest
		want int
	}{
		{name: "skip ahead", id: "o2", req: TransitionRequest{Status: "ready"}, want: http.StatusConflict},
		{name: "reject without reason", id: "o2", req: TransitionRequest{Status: "rejected"}, want: http.StatusUnprocessableEntity},
		{name: "unknown status", id: "o2", req: TransitionRequest{Status: "lost"}, want: http.StatusBadRequest},
		{name: "unknown record", id: "missing", req: TransitionRequest{Status: "confirmed"}, want: http.StatusNotFound},
		{name: "reject with reason", id: "o2", req: TransitionRequest{Status: "rejected", Reason: "out-of-stock"}, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, boardPath(orders, "/records/"+tt.id+"/transition"), tt.req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestReservationFlow(t *testing.T) {
	srv, mgr := newTestServer(t)
	board := types.BoardKey{TenantID: "t1", Kind: types.KindReservation}
	_, err := mgr.Open(context.Background(), board)
	require.NoError(t, err)

	w := do(t, srv, http.MethodPost, boardPath(board, "/records"), types.RecordDoc{ID: "r1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, http.MethodPost, boardPath(board, "/records/r1/release"), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, http.MethodPost, boardPath(board, "/records/r1/assign"), AssignRequest{TableID: "T4"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "T4", decode[types.RecordDoc](t, w).TableID)

	w = do(t, srv, http.MethodPost, boardPath(board, "/records/r1/occupy"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[types.RecordDoc](t, w).Occupied)

	w = do(t, srv, http.MethodPost, boardPath(board, "/records/r1/release"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[types.RecordDoc](t, w)
	assert.Equal(t, "completed", rec.Status)
	assert.False(t, rec.Occupied)
}

func TestDismissAndHandle(t *testing.T) {
	srv, mgr := newTestServer(t)
	_, err := mgr.Open(context.Background(), orders)
	require.NoError(t, err)
	_, err = mgr.InsertRecord(context.Background(), &types.Record{ID: "o3", TenantID: "t1", Kind: types.KindOrder})
	require.NoError(t, err)

	w := do(t, srv, http.MethodPost, boardPath(orders, "/dismiss"), nil)
	assert.Equal(t, types.AlertSuppressed, decode[AlertResponse](t, w).State)

	w = do(t, srv, http.MethodPost, boardPath(orders, "/records/o3/handle"), nil)
	alert := decode[AlertResponse](t, w)
	assert.Equal(t, types.AlertIdle, alert.State)
	assert.Empty(t, alert.Active)
}

func TestAudioActivation(t *testing.T) {
	srv, mgr := newTestServer(t)
	_, err := mgr.Open(context.Background(), orders)
	require.NoError(t, err)

	w := do(t, srv, http.MethodGet, boardPath(orders, "/audio?device=bar"), nil)
	assert.False(t, decode[AudioResponse](t, w).Activated)

	w = do(t, srv, http.MethodPost, boardPath(orders, "/audio/activate"), AudioRequest{Device: "bar"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[AudioResponse](t, w).Activated)

	// Activation is per device
	w = do(t, srv, http.MethodGet, boardPath(orders, "/audio?device=kitchen"), nil)
	assert.False(t, decode[AudioResponse](t, w).Activated)

	w = do(t, srv, http.MethodPost, boardPath(orders, "/audio/deactivate"), AudioRequest{Device: "bar"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[AudioResponse](t, w).Activated)
}

func TestLedgerGaps(t *testing.T) {
	srv, mgr := newTestServer(t)
	ctx := context.Background()
	ledger := mgr.Ledger()

	sent := types.LedgerKey{TenantID: "t1", EntityID: "o1", Target: types.StatusConfirmed}
	pending := types.LedgerKey{TenantID: "t1", EntityID: "o2", Target: types.StatusConfirmed}
	other := types.LedgerKey{TenantID: "t2", EntityID: "o9", Target: types.StatusRejected}
	for _, k := range []types.LedgerKey{sent, pending, other} {
		_, err := ledger.Reserve(ctx, k)
		require.NoError(t, err)
	}
	require.NoError(t, ledger.Complete(ctx, sent, types.DeliverySent, ""))

	w := do(t, srv, http.MethodGet, "/v1/ledger", nil)
	assert.Len(t, decode[LedgerResponse](t, w).Entries, 3)

	w = do(t, srv, http.MethodGet, "/v1/tenants/t1/ledger?gaps=true", nil)
	entries := decode[LedgerResponse](t, w).Entries
	require.Len(t, entries, 1)
	assert.Equal(t, "o2", entries[0].EntityID)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", types.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("x: %w", types.ErrMissingReason), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", types.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", types.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", types.ErrAudioUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", types.ErrUnknownStatus), http.StatusBadRequest},
		{badRequest(errors.New("bad json")), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestBoardHealthFollowsEvents(t *testing.T) {
	srv, mgr := newTestServer(t)
	h := srv.Health()
	h.Start()
	ctx := context.Background()

	statusIs := func(want healthpb.HealthCheckResponse_ServingStatus) func() bool {
		return func() bool {
			got, err := h.Status(ctx, orders)
			return err == nil && got == want
		}
	}

	_, err := mgr.Open(ctx, orders)
	require.NoError(t, err)
	assert.Eventually(t, statusIs(healthpb.HealthCheckResponse_SERVING), time.Second, 5*time.Millisecond)

	mgr.EventBroker().Publish(&events.Event{Type: events.EventBoardPollFailed, TenantID: "t1", Kind: "order"})
	assert.Eventually(t, statusIs(healthpb.HealthCheckResponse_NOT_SERVING), time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Close(orders))
	assert.Eventually(t, statusIs(healthpb.HealthCheckResponse_SERVICE_UNKNOWN), time.Second, 5*time.Millisecond)
}
