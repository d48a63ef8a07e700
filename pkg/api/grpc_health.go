package api

import (
	"context"
	"sync"

	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of a board
func ServiceName(board types.BoardKey) string {
	return "bellhop.board/" + board.TenantID + "/" + string(board.Kind)
}

// BoardHealth reports each open board on the gRPC health protocol. A board
// is SERVING while its polls succeed and NOT_SERVING after a failed poll.
// The empty service name reports the node itself.
type BoardHealth struct {
	server *health.Server
	broker *events.Broker
	logger zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	sub       events.Subscriber
	wg        sync.WaitGroup
}

// NewBoardHealth creates a health tracker fed by broker
func NewBoardHealth(broker *events.Broker) *BoardHealth {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &BoardHealth{
		server: srv,
		broker: broker,
		logger: log.WithComponent("grpc-health"),
	}
}

// Register adds the health service to a gRPC server
func (h *BoardHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Start follows board events on the broker
func (h *BoardHealth) Start() {
	h.startOnce.Do(func() {
		h.sub = h.broker.Subscribe(events.InCategory("board"))
		h.wg.Add(1)
		go h.run(h.sub)
	})
}

// Stop unsubscribes and marks every service NOT_SERVING
func (h *BoardHealth) Stop() {
	h.stopOnce.Do(func() {
		if h.sub != nil {
			h.broker.Unsubscribe(h.sub)
			h.wg.Wait()
		}
		h.server.Shutdown()
	})
}

func (h *BoardHealth) run(sub events.Subscriber) {
	defer h.wg.Done()
	for ev := range sub {
		kind, err := types.ParseKind(ev.Kind)
		if err != nil {
			continue
		}
		board := types.BoardKey{TenantID: ev.TenantID, Kind: kind}

		switch ev.Type {
		case events.EventBoardOpened, events.EventBoardPollRestored:
			h.Set(board, healthpb.HealthCheckResponse_SERVING)
		case events.EventBoardPollFailed:
			h.Set(board, healthpb.HealthCheckResponse_NOT_SERVING)
		case events.EventBoardClosed:
			h.Set(board, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
}

// Set overrides the serving status of a board
func (h *BoardHealth) Set(board types.BoardKey, status healthpb.HealthCheckResponse_ServingStatus) {
	h.logger.Debug().Str("board", board.String()).Str("status", status.String()).Msg("Board serving status")
	h.server.SetServingStatus(ServiceName(board), status)
}

// Status returns the serving status of a board as a gRPC client would see it
func (h *BoardHealth) Status(ctx context.Context, board types.BoardKey) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.server.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName(board)})
	if err != nil {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN, err
	}
	return resp.Status, nil
}
