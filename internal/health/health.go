// Package health reports the ride's positioning status over the standard
// gRPC health protocol: SERVING while the GPS signal is stable, NOT_SERVING
// once it is lost or before it has been acquired.
package health

import (
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/radar"
)

// ServiceName is the health service name clients query.
const ServiceName = "route.radar.Radar"

// Reporter is a radar listener driving a gRPC health server.
type Reporter struct {
	hs *health.Server

	mu      sync.Mutex
	serving bool
}

var _ radar.Listener = (*Reporter)(nil)

// NewReporter starts NOT_SERVING.
func NewReporter() *Reporter {
	r := &Reporter{hs: health.NewServer()}
	r.hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	r.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return r
}

// Server returns the underlying health server.
func (r *Reporter) Server() *health.Server { return r.hs }

// Serving reports the last status set.
func (r *Reporter) Serving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serving
}

func (r *Reporter) set(serving bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.serving == serving {
		return
	}
	r.serving = serving
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.hs.SetServingStatus(ServiceName, status)
	monitoring.Logf("health: %s", status)
}

func (r *Reporter) OnAlarm(e radar.Event) {
	if e.Kind == radar.GpsLost {
		r.set(false)
	}
}

func (r *Reporter) OnMessage(time.Time, string) {}

// ObserveSnapshot follows signal acquisition, which raises no alarm.
func (r *Reporter) ObserveSnapshot(s radar.Snapshot) {
	r.set(s.GpsAcquired && !s.GpsLost)
}

// Register adds the health service to srv.
func (r *Reporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, r.hs)
}

// Serve runs a gRPC server carrying only the health service on lis until
// Stop is called on the returned server.
func (r *Reporter) Serve(lis net.Listener) *grpc.Server {
	srv := grpc.NewServer()
	r.Register(srv)
	go func() {
		if err := srv.Serve(lis); err != nil {
			monitoring.Logf("health server error: %v", err)
		}
	}()
	monitoring.Logf("health listening on %s", lis.Addr())
	return srv
}

// Shutdown marks every service NOT_SERVING ahead of a stop.
func (r *Reporter) Shutdown() { r.hs.Shutdown() }
