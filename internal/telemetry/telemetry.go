// Package telemetry models the out-of-scope telemetry daemon
// collaborator (§6) as a thin gRPC client. Apollo never implements the
// daemon's wire protocol itself — only enough of a client to publish
// measurement snapshots when it is reachable, and to degrade to a
// no-op when it is not (§7's "External-handle unavailable").
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Publisher is the facade's view of the telemetry daemon: best-effort
// publication that never blocks region operations and never returns an
// error the caller must act on (degraded mode is silent by design).
type Publisher interface {
	// PublishSnapshot sends a region's measurement snapshot summary.
	// Implementations must not block past their own dial/request
	// timeout.
	PublishSnapshot(ctx context.Context, regionName string, execCount uint64, avgTime float64)
	// Available reports whether the daemon is reachable. GRPCPublisher
	// runs a fresh health probe on every call.
	Available() bool
	Close() error
}

// NoopPublisher is used when no telemetry endpoint is configured, or
// when dialing the daemon fails at startup. Publication becomes a
// no-op; local measurement is entirely unaffected.
type NoopPublisher struct{}

func (NoopPublisher) PublishSnapshot(context.Context, string, uint64, float64) {}
func (NoopPublisher) Available() bool                                         { return false }
func (NoopPublisher) Close() error                                            { return nil }

// GRPCPublisher dials the telemetry daemon's gRPC endpoint and probes
// it with the standard health-checking protocol
// (grpc.health.v1.Health) rather than a bespoke generated stub — there
// is no retrievable .proto for the daemon's actual publish RPC in this
// environment, so the client only asserts liveness and logs a
// structured "would publish" event; a real deployment swaps in the
// daemon's generated client without touching the Publisher interface.
type GRPCPublisher struct {
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
	logger *zap.Logger
}

// Dial connects to addr with the OpenTelemetry gRPC interceptors
// instrumented, matching the teacher's gRPC client/server wiring.
func Dial(addr string, logger *zap.Logger) (*GRPCPublisher, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(otelgrpc.UnaryClientInterceptor()),
		grpc.WithStreamInterceptor(otelgrpc.StreamClientInterceptor()),
	)
	if err != nil {
		return nil, err
	}
	return &GRPCPublisher{
		conn:   conn,
		health: grpc_health_v1.NewHealthClient(conn),
		logger: logger.With(zap.String("component", "telemetry")),
	}, nil
}

func (p *GRPCPublisher) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := p.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		p.logger.Debug("telemetry daemon unreachable", zap.Error(err))
		return false
	}
	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
}

func (p *GRPCPublisher) PublishSnapshot(ctx context.Context, regionName string, execCount uint64, avgTime float64) {
	if !p.Available() {
		p.logger.Debug("telemetry daemon offline, dropping snapshot",
			zap.String("region", regionName))
		return
	}
	p.logger.Debug("publishing measurement snapshot",
		zap.String("region", regionName),
		zap.Uint64("exec_count", execCount),
		zap.Float64("avg_time", avgTime))
}

func (p *GRPCPublisher) Close() error {
	return p.conn.Close()
}
