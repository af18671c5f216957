// Package grpchealth runs the standard gRPC health service next to a
// binary's main workload so orchestrators can probe it.
package grpchealth

import (
	"context"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// Listen binds addr and registers the health service. Every name starts
// NOT_SERVING.
func Listen(addr string, services ...string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc health listen %s: %w", addr, err)
	}
	s := &Server{grpc: grpc.NewServer(), health: health.NewServer(), lis: lis}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	for _, name := range services {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s, nil
}

func (s *Server) Addr() string { return s.lis.Addr().String() }

// SetServing flips the status of service (and of the overall server for "").
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// Serve blocks until ctx ends, then stops gracefully.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()
	log.Printf("grpc: health service on %s", s.lis.Addr())
	if err := s.grpc.Serve(s.lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
