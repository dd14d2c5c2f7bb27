package server

import (
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gosight/neuroloop/internal/health"
)

// servingThreshold is the overall score at which the process as a whole
// reports SERVING
const servingThreshold = 50

// HealthServer mirrors component health onto the standard gRPC health
// service. The empty service name reports the whole system.
type HealthServer struct {
	srv *grpchealth.Server

	mu    sync.Mutex
	known map[string]healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthServer() *HealthServer {
	return &HealthServer{
		srv:   grpchealth.NewServer(),
		known: make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
}

// Register attaches the health service to a gRPC server
func (s *HealthServer) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.srv)
}

// Update publishes a health snapshot
func (s *HealthServer) Update(sys health.SystemHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set("", overallStatus(sys.OverallScore))
	for _, c := range sys.Components {
		s.set(c.Name, componentStatus(c.Status))
	}
}

func (s *HealthServer) set(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	if prev, ok := s.known[service]; ok && prev == status {
		return
	}
	s.known[service] = status
	s.srv.SetServingStatus(service, status)

	if service != "" {
		log.Debug().Str("component", service).Str("status", status.String()).Msg("gRPC health status changed")
	}
}

// Checker exposes the underlying health server
func (s *HealthServer) Checker() healthpb.HealthServer {
	return s.srv
}

// Shutdown marks every service NOT_SERVING
func (s *HealthServer) Shutdown() {
	s.srv.Shutdown()
}

func overallStatus(score int) healthpb.HealthCheckResponse_ServingStatus {
	if score >= servingThreshold {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func componentStatus(status health.Status) healthpb.HealthCheckResponse_ServingStatus {
	switch status {
	case health.StatusHealthy, health.StatusWarning:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
