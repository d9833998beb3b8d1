package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported by the gRPC health endpoint.
const ServiceName = "streamcollector"

// Server provides HTTP endpoints for health monitoring and, when a gRPC port
// is configured, the standard grpc.health.v1 service.
type Server struct {
	monitor *Monitor
	server  *http.Server

	grpcPort   int
	grpcServer *grpc.Server
	grpcHealth *grpchealth.Server
}

// NewServer creates a new health server. grpcPort <= 0 disables gRPC.
func NewServer(monitor *Monitor, port, grpcPort int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		grpcPort:   grpcPort,
		grpcHealth: grpchealth.NewServer(),
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	if grpcPort > 0 {
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.grpcHealth)
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server and the gRPC server if enabled. A gRPC
// listen failure is logged and HTTP is still served.
func (s *Server) Start() error {
	if s.grpcServer != nil {
		if lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.grpcPort)); err != nil {
			slog.Error("Failed to listen for gRPC health, serving HTTP only",
				"port", s.grpcPort,
				"error", err,
			)
		} else {
			go func() {
				if err := s.grpcServer.Serve(lis); err != nil {
					slog.Error("gRPC health server failed", "error", err)
				}
			}()
		}
	}
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.grpcHealth.Shutdown()
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	return s.server.Shutdown(ctx)
}

// StartStatusSync keeps the gRPC serving status in line with the monitor.
func (s *Server) StartStatusSync(ctx context.Context, interval time.Duration) {
	s.syncStatus(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.syncStatus(ctx)
			}
		}
	}()
}

func (s *Server) syncStatus(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.monitor.CheckHealth(ctx).Status == StatusCritical {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.grpcHealth.SetServingStatus("", status)
	s.grpcHealth.SetServingStatus(ServiceName, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	response := map[string]string{"status": string(report.Status)}
	w.Header().Set("Content-Type", "application/json")

	if report.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
