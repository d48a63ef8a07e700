package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/bellhop/pkg/dispatch"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSend(t *testing.T) {
	var got dispatch.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, 0)
	err := wh.Send(context.Background(), &dispatch.Payload{Recipient: "a@example.com", Subject: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Recipient)
	assert.Equal(t, "hello", got.Subject)
}

func TestWebhookSendErrorStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "relay down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, 0).Send(context.Background(), &dispatch.Payload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, 1, calls, "webhook must not retry")
}

func TestLogTransport(t *testing.T) {
	assert.NoError(t, NewLog().Send(context.Background(), &dispatch.Payload{Subject: "dry"}))
}

func TestCompose(t *testing.T) {
	c := &Composer{Letterhead: Letterhead{BusinessName: "Casa Luna", Phone: "555-0100", ReplyTo: "hi@casaluna.test"}}

	tests := []struct {
		name        string
		record      *types.Record
		wantNil     bool
		wantSubject string
		wantBody    string
	}{
		{
			name:    "no recipient",
			record:  &types.Record{ID: "o1", Kind: types.KindOrder, Status: types.StatusConfirmed},
			wantNil: true,
		},
		{
			name: "order confirmed",
			record: &types.Record{ID: "o1", Kind: types.KindOrder, Status: types.StatusConfirmed,
				Attributes: map[string]string{AttrEmail: "guest@example.com", AttrName: "Ana"}},
			wantSubject: "Your order o1 is confirmed",
			wantBody:    "Hi Ana",
		},
		{
			name: "order rejected with note",
			record: &types.Record{ID: "o2", Kind: types.KindOrder, Status: types.StatusRejected,
				RejectReason: types.RejectOutOfStock, RejectNote: "Sorry, no more churros.",
				Attributes: map[string]string{AttrEmail: "guest@example.com"}},
			wantSubject: "Your order o2 could not be accepted",
			wantBody:    "some items are out of stock",
		},
		{
			name: "reservation cancelled",
			record: &types.Record{ID: "r1", Kind: types.KindReservation, Status: types.StatusCancelled,
				Attributes: map[string]string{AttrEmail: "guest@example.com", AttrTime: "Friday 8pm"}},
			wantSubject: "Your reservation has been cancelled",
			wantBody:    "for Friday 8pm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := c.Compose(tt.record)
			if tt.wantNil {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantSubject, p.Subject)
			assert.Contains(t, p.Body, tt.wantBody)
			assert.Contains(t, p.Body, "Casa Luna")
			assert.Equal(t, "hi@casaluna.test", p.Fields["reply_to"])
		})
	}
}
