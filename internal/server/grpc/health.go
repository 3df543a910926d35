// Package grpcserver serves the grpc.health.v1 service next to the HTTP API.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health entry that tracks the engine's dependencies.
const ServiceName = "credgate"

// Check probes one dependency.
type Check func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Creds      credentials.TransportCredentials // nil serves plaintext
	Reflection bool                             // dev only
}

// Server wraps a grpc.Server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// New builds the server. Overall and ServiceName status start as NOT_SERVING.
func New(log *zap.Logger, opts Options) *Server {
	var so []grpc.ServerOption
	if opts.Creds != nil {
		so = append(so, grpc.Creds(opts.Creds))
	}
	so = append(so, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		RequestIDUnary(),
		LoggingUnary(log),
	))
	s := grpc.NewServer(so...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if opts.Reflection {
		reflection.Register(s)
	}
	return &Server{grpc: s, health: hs, log: log}
}

// SetServing flips the overall and ServiceName status.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Probe runs checks once and updates the status. Every check must pass.
func (s *Server) Probe(ctx context.Context, timeout time.Duration, checks map[string]Check) bool {
	ok := true
	for name, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c(cctx)
		cancel()
		if err != nil {
			s.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			ok = false
		}
	}
	s.SetServing(ok)
	return ok
}

// Watch probes every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration, checks map[string]Check) {
	s.Probe(ctx, interval, checks)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Probe(ctx, interval, checks)
		}
	}
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error { return s.grpc.Serve(lis) }

// Shutdown marks the service down and stops gracefully, forcing after timeout.
func (s *Server) Shutdown(timeout time.Duration) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.grpc.Stop()
	}
}
