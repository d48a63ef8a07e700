package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRequiresTenant(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/v1/stream", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamFiltersBoard(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		kind types.Kind
		want bool
	}{
		{name: "same tenant", ev: events.Event{Type: events.EventAlertChanged, TenantID: "t1", Kind: "order"}, want: true},
		{name: "other tenant", ev: events.Event{Type: events.EventAlertChanged, TenantID: "t2", Kind: "order"}},
		{name: "kind filter", ev: events.Event{Type: events.EventAlertChanged, TenantID: "t1", Kind: "reservation"}, kind: types.KindOrder},
		{name: "raw store write", ev: events.Event{Type: events.EventRecordInserted, TenantID: "t1", Kind: "order"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := true
			for _, f := range streamFilters("t1", tt.kind) {
				got = got && f(&tt.ev)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamRelaysBoardEvents(t *testing.T) {
	srv, mgr := newTestServer(t)
	_, err := mgr.Open(context.Background(), orders)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	broker := mgr.EventBroker()
	before := broker.SubscriberCount()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream?tenant=t1&kind=order"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return broker.SubscriberCount() == before+1 }, time.Second, 5*time.Millisecond)

	_, err = mgr.InsertRecord(context.Background(), &types.Record{ID: "o7", TenantID: "t1", Kind: types.KindOrder})
	require.NoError(t, err)

	seen := map[string]StreamMessage{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 2 {
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == string(events.EventBoardRecord) || msg.Type == string(events.EventAlertChanged) {
			seen[msg.Type] = msg
		}
	}

	rec := seen[string(events.EventBoardRecord)]
	require.NotNil(t, rec.Record)
	assert.Equal(t, "o7", rec.Record.ID)
	assert.Equal(t, string(types.AlertAlerting), seen[string(events.EventAlertChanged)].Message)
}
