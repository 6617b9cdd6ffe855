// Package health reports whether the gate sensor is producing readings, over
// the standard gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/futureproathletes/timing-gates/internal/monitoring"
	"github.com/futureproathletes/timing-gates/internal/timeutil"
)

// ServiceName is the health service name for the gate. The empty service
// name reports the same status.
const ServiceName = "timinggates.Gate"

// DefaultStaleAfter is how long the sensor may go without a valid reading
// before the gate is reported as not serving.
const DefaultStaleAfter = 2 * time.Second

// Freshness reports how long ago the last valid reading was taken.
type Freshness interface {
	SinceLastValid() (time.Duration, bool)
}

// Monitor maps sensor freshness onto a gRPC health server.
type Monitor struct {
	server     *health.Server
	source     Freshness
	staleAfter time.Duration

	mu     sync.Mutex
	status grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewMonitor creates a monitor that starts out NOT_SERVING until the first
// valid reading.
func NewMonitor(source Freshness, staleAfter time.Duration) *Monitor {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	m := &Monitor{
		server:     health.NewServer(),
		source:     source,
		staleAfter: staleAfter,
		status:     grpc_health_v1.HealthCheckResponse_NOT_SERVING,
	}
	m.set(m.status)
	return m
}

// Server returns the gRPC health service.
func (m *Monitor) Server() *health.Server { return m.server }

// Status returns the most recently evaluated status.
func (m *Monitor) Status() grpc_health_v1.HealthCheckResponse_ServingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Serving reports whether the last evaluation found a fresh sensor.
func (m *Monitor) Serving() bool {
	return m.Status() == grpc_health_v1.HealthCheckResponse_SERVING
}

// Evaluate checks the sensor once and updates the health server.
func (m *Monitor) Evaluate() grpc_health_v1.HealthCheckResponse_ServingStatus {
	next := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if since, ok := m.source.SinceLastValid(); ok && since <= m.staleAfter {
		next = grpc_health_v1.HealthCheckResponse_SERVING
	}

	m.mu.Lock()
	changed := next != m.status
	m.status = next
	m.mu.Unlock()

	if changed {
		m.set(next)
		if next == grpc_health_v1.HealthCheckResponse_SERVING {
			monitoring.Logf("health: sensor readings arriving")
		} else {
			monitoring.Logf("health: no valid sensor reading for more than %s", m.staleAfter)
		}
	}
	return next
}

func (m *Monitor) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}

// Run re-evaluates at a quarter of the stale interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, clock timeutil.Clock) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(m.staleAfter / 4)
	defer ticker.Stop()

	m.Evaluate()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return ctx.Err()
		case <-ticker.C():
			m.Evaluate()
		}
	}
}

// Serve runs a gRPC server exposing the health service on lis until ctx is
// done.
func Serve(ctx context.Context, lis net.Listener, m *Monitor) error {
	grpcServer := gogrpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, m.Server())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		m.server.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, gogrpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("grpc health server: %w", err)
	}
}
