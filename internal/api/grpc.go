package api

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service names reported by the health server.
const (
	BacktestService = "tradelab.Backtest"
	RiskService     = "tradelab.Risk"
)

// newGRPCServer builds the gRPC server with the standard health service
// reporting every tradelab service as serving.
func newGRPCServer() (*grpc.Server, *health.Server) {
	gs := grpc.NewServer()
	hs := health.NewServer()
	for _, svc := range []string{"", BacktestService, RiskService} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	return gs, hs
}
