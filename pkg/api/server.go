package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/manager"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// Server exposes the board sessions of a manager over HTTP, and their
// serving status over the gRPC health protocol
type Server struct {
	manager *manager.Manager
	mux     *http.ServeMux
	http    *http.Server
	grpc    *grpc.Server
	health  *BoardHealth
	stream  *Stream
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(mgr *manager.Manager, version string) *Server {
	s := &Server{
		manager: mgr,
		mux:     http.NewServeMux(),
		logger:  log.WithComponent("api"),
	}

	s.health = NewBoardHealth(mgr.EventBroker())
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(MetricsInterceptor()))
	s.health.Register(s.grpc)
	s.stream = NewStream(mgr.EventBroker())

	RegisterHealthRoutes(s.mux, version)
	s.routes()
	return s
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, instrument(pattern, h))
}

func (s *Server) routes() {
	const board = "/v1/tenants/{tenant}/{kind}"

	s.handle("GET /v1/boards", s.listBoards)
	s.handle("POST "+board+"/open", s.openBoard)
	s.handle("POST "+board+"/close", s.closeBoard)
	s.handle("POST "+board+"/restart", s.restartBoard)
	s.handle("POST "+board+"/refresh", s.refresh)

	s.handle("GET "+board+"/alert", s.getAlert)
	s.handle("POST "+board+"/dismiss", s.dismiss)

	s.handle("GET "+board+"/records", s.listRecords)
	s.handle("POST "+board+"/records", s.insertRecord)
	s.handle("GET "+board+"/records/{id}", s.getRecord)
	s.handle("POST "+board+"/records/{id}/handle", s.handleRecord)
	s.handle("POST "+board+"/records/{id}/transition", s.transition)
	s.handle("POST "+board+"/records/{id}/occupy", s.occupy)
	s.handle("POST "+board+"/records/{id}/release", s.release)
	s.handle("POST "+board+"/records/{id}/assign", s.assignTable)

	s.handle("GET "+board+"/audio", s.getAudio)
	s.handle("POST "+board+"/audio/activate", s.activateAudio)
	s.handle("POST "+board+"/audio/deactivate", s.deactivateAudio)

	s.handle("GET /v1/ledger", s.listLedger)
	s.handle("GET /v1/tenants/{tenant}/ledger", s.listLedger)

	s.mux.Handle("GET /v1/stream", s.stream)
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Health returns the gRPC board health tracker
func (s *Server) Health() *BoardHealth {
	return s.health
}

// Start serves HTTP on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.health.Start()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartGRPC serves the gRPC health service on addr
func (s *Server) StartGRPC(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("gRPC health listening")
	return s.grpc.Serve(lis)
}

// Shutdown stops both servers and closes websocket streams
func (s *Server) Shutdown(ctx context.Context) error {
	s.grpc.GracefulStop()
	s.health.Stop()
	s.stream.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func boardKey(r *http.Request) (types.BoardKey, error) {
	kind, err := types.ParseKind(r.PathValue("kind"))
	if err != nil {
		return types.BoardKey{}, badRequest(err)
	}
	tenant := r.PathValue("tenant")
	if tenant == "" {
		return types.BoardKey{}, badRequest(errors.New("tenant is required"))
	}
	return types.BoardKey{TenantID: tenant, Kind: kind}, nil
}
