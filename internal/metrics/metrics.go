// Package metrics exposes ride and service counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/radar"
)

var states = []radar.State{radar.StateDisengaged, radar.StateEngaged, radar.StateDrifting, radar.StateOffTrack}

type Collector struct {
	reg *prometheus.Registry

	Alarms        *prometheus.CounterVec // kind label
	FixesAccepted prometheus.Counter
	FixesRejected prometheus.Counter
	Distance      prometheus.Gauge
	State         *prometheus.GaugeVec // state label, 1 for the current state
	GpsAcquired   prometheus.Gauge
	PlanBuild     prometheus.Histogram
	NMEAInvalid   prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	mu                 sync.Mutex
	lastFixes, lastRej int
}

var _ radar.Listener = (*Collector)(nil)

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radar_alarms_total",
			Help: "Alarms raised, by kind.",
		}, []string{"kind"}),
		FixesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radar_fixes_accepted_total",
			Help: "Location fixes accepted by the engine.",
		}),
		FixesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radar_fixes_rejected_total",
			Help: "Location fixes rejected as invalid.",
		}),
		Distance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "radar_distance_to_route_meters",
			Help: "Distance from the last position to the route, -1 when out of search range.",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "radar_engagement_state",
			Help: "1 for the current engagement state, 0 otherwise.",
		}, []string{"state"}),
		GpsAcquired: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "radar_gps_acquired",
			Help: "1 while the positioning signal is stable, 0 otherwise.",
		}),
		PlanBuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "radar_plan_build_seconds",
			Help:    "Duration of plan construction and indexing.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		NMEAInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radar_nmea_invalid_total",
			Help: "NMEA sentences that were garbled or reported no fix.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radar_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radar_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "radar_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "radar_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.Alarms, c.FixesAccepted, c.FixesRejected, c.Distance, c.State,
		c.GpsAcquired, c.PlanBuild, c.NMEAInvalid,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
	)
	for _, k := range radar.AllAlarmKinds() {
		c.Alarms.WithLabelValues(k.String())
	}
	c.setState(radar.StateDisengaged)
	return c
}

// Registry returns the private registry, for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) OnAlarm(e radar.Event) {
	c.Alarms.WithLabelValues(e.Kind.String()).Inc()
}

func (c *Collector) OnMessage(time.Time, string) {}

func (c *Collector) setState(s radar.State) {
	for _, st := range states {
		v := 0.0
		if st == s {
			v = 1
		}
		c.State.WithLabelValues(st.String()).Set(v)
	}
}

// ObserveSnapshot updates the gauges from a ride snapshot and adds the fixes
// counted since the previous snapshot. A ride restart resets the baseline.
func (c *Collector) ObserveSnapshot(s radar.Snapshot) {
	c.setState(s.State)
	c.Distance.Set(s.Distance)
	if s.GpsAcquired && !s.GpsLost {
		c.GpsAcquired.Set(1)
	} else {
		c.GpsAcquired.Set(0)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Fixes < c.lastFixes || s.Rejected < c.lastRej {
		c.lastFixes, c.lastRej = 0, 0
	}
	c.FixesAccepted.Add(float64(s.Fixes - c.lastFixes))
	c.FixesRejected.Add(float64(s.Rejected - c.lastRej))
	c.lastFixes, c.lastRej = s.Fixes, s.Rejected
}

// ObservePlanBuild records one plan build.
func (c *Collector) ObservePlanBuild(d time.Duration) { c.PlanBuild.Observe(d.Seconds()) }

// NMEAInvalidAdd counts invalid sentences.
func (c *Collector) NMEAInvalidAdd(n int) {
	if n > 0 {
		c.NMEAInvalid.Add(float64(n))
	}
}

// The methods below satisfy publisher.Metrics.

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("metrics server error: %v", err)
		}
	}()
	monitoring.Logf("metrics listening on %s", addr)
	return srv
}
