// Package health exposes the decision loop status over the gRPC health protocol.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name reported for the decision loop.
const Service = "nevron.loop"

// #region server

// Server serves grpc.health.v1 with a single loop service entry.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer creates a Server that reports NOT_SERVING until SetServing(true).
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger.With("component", "health"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing updates the loop service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, status)
	s.logger.Debug("health status changed", "service", Service, "status", status.String())
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("health serve: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// #endregion server

// #region client

// Check dials addr and returns the loop service status name.
func Check(ctx context.Context, addr string, opts ...grpc.DialOption) (string, error) {
	resp, err := Probe(ctx, addr, opts...)
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

// Probe dials addr and returns the raw health response for the loop service.
func Probe(ctx context.Context, addr string, opts ...grpc.DialOption) (*healthpb.HealthCheckResponse, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return resp, nil
}

// #endregion client
