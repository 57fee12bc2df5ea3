// Package health exposes the scheduler's liveness over the standard gRPC
// health protocol (grpc.health.v1).
//
// The service reports NOT_SERVING until the controller calls SetServing(true)
// and goes back to NOT_SERVING when shutdown begins, so load balancers and
// grpc_health_probe stop routing before workers drain.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/beaver-sched/internal/logx"
)

// ServiceName is the per-service name registered alongside the overall ("")
// status.
const ServiceName = "beaver.sched.Scheduler"

// Server wraps grpc's health implementation.
type Server struct {
	hs  *health.Server
	log logx.Logger
}

func New(log logx.Logger) *Server {
	s := &Server{hs: health.NewServer(), log: log}
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and the scheduler service status.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
	s.hs.SetServingStatus(ServiceName, status)
	s.log.Debug("health status changed", logx.String("status", status.String()))
}

// Check answers a health probe in-process.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.hs.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Register attaches the health service to an existing grpc server.
func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.hs)
}

// Serve runs a dedicated grpc server on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	s.Register(gs)

	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(lis) }()
	s.log.Info("health server listening", logx.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		s.hs.Shutdown()
		gs.GracefulStop()
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("health: serve: %w", err)
		}
		return nil
	}
}

// ListenAndServe listens on port and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("health: listen on port %d: %w", port, err)
	}
	return s.Serve(ctx, lis)
}
