package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// Stream relays broker events of one tenant to websocket clients: alert
// changes, board record updates, chime requests and delivery gaps. Board
// screens play the chime when they receive chime.requested.
type Stream struct {
	broker   *events.Broker
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewStream creates a websocket stream handler
func NewStream(broker *events.Broker) *Stream {
	return &Stream{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Board screens are served from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("stream"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades GET /v1/stream?tenant=<id>[&kind=<kind>]
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, badRequest(errors.New("tenant query parameter is required")))
		return
	}
	var kind types.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := types.ParseKind(raw)
		if err != nil {
			writeError(w, badRequest(err))
			return
		}
		kind = k
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	logger := s.logger.With().Str("tenant_id", tenant).Str("kind", string(kind)).Logger()
	logger.Debug().Msg("Stream client connected")

	sub := s.broker.Subscribe(streamFilters(tenant, kind)...)
	defer s.broker.Unsubscribe(sub)

	done := make(chan struct{})
	go s.readPump(conn, done, logger)
	s.writePump(conn, sub, done)

	logger.Debug().Msg("Stream client disconnected")
}

func (s *Stream) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Stream) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// readPump only serves pongs and detects disconnects; clients never send
// anything the server acts on
func (s *Stream) readPump(conn *websocket.Conn, done chan struct{}, logger zerolog.Logger) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("Stream read error")
			}
			return
		}
	}
}

func (s *Stream) writePump(conn *websocket.Conn, sub events.Subscriber, done chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(toMessage(ev)); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// streamFilters narrow the broker down to the client's board. Raw store
// writes (record.*) stay internal; clients get the reconciled board.record.
func streamFilters(tenant string, kind types.Kind) []events.Filter {
	return []events.Filter{
		events.ForBoard(tenant, string(kind)),
		events.Not(events.InCategory("record")),
	}
}

func toMessage(ev *events.Event) StreamMessage {
	msg := StreamMessage{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Tenant:    ev.TenantID,
		Kind:      ev.Kind,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Message:   ev.Message,
		Metadata:  ev.Metadata,
	}
	if doc, ok := ev.Payload.(*types.RecordDoc); ok {
		msg.Record = doc
	}
	return msg
}

// Close disconnects every client and refuses new ones
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}
