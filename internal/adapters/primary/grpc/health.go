package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// CheckFunc sonde une dépendance (Postgres, Redis...)
type CheckFunc func(ctx context.Context) error

// HealthServer expose grpc.health.v1 avec un statut par dépendance.
// Le service "" est SERVING tant que Postgres répond : Redis n'est qu'un cache.
type HealthServer struct {
	health   *health.Server
	checks   map[string]CheckFunc
	critical map[string]bool
	interval time.Duration
}

func NewHealthServer(interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthServer{
		health:   health.NewServer(),
		checks:   map[string]CheckFunc{},
		critical: map[string]bool{},
		interval: interval,
	}
}

// AddCheck enregistre une dépendance. critical=true : sa panne rend le service NOT_SERVING.
func (s *HealthServer) AddCheck(name string, critical bool, check CheckFunc) {
	s.checks[name] = check
	s.critical[name] = critical
}

// Register : Health Check & Reflection
func (s *HealthServer) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, s.health)
	reflection.Register(grpcServer)
}

// CheckOnce exécute toutes les sondes et met à jour les statuts
func (s *HealthServer) CheckOnce(ctx context.Context) {
	overall := grpc_health_v1.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err := check(ctx); err != nil {
			slog.Warn("⚠️ Dependency unhealthy", "dependency", name, "error", err)
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			if s.critical[name] {
				overall = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			}
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

// Run sonde périodiquement jusqu'à l'annulation du ctx
func (s *HealthServer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// Shutdown passe tout en NOT_SERVING avant le GracefulStop
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
}

// Check expose la réponse locale (utile aux tests et aux sondes internes)
func (s *HealthServer) Check(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
