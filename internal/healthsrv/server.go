// Package healthsrv exposes the standard gRPC health service. The overall
// service reports SERVING while the process is up; EngineService reports
// SERVING only while the try-on engine is Active.
package healthsrv

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// EngineService is the health service name that tracks the engine.
const EngineService = "tryon.engine"

// Server hosts the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a health server with the engine reported NOT_SERVING.
func New() *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(EngineService, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{grpc: gs, health: hs}
}

// ObserveEngine is an engine.ObserverFunc that mirrors engine state.
func (s *Server) ObserveEngine(_, next engine.Status) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if next.State == domain.EngineActive {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(EngineService, status)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("Health service listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
