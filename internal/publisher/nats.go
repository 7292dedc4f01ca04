// Package publisher sends ride alarms to NATS subscribers, one subject per
// ride and alarm kind: <prefix>.<ride>.<kind>.
package publisher

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/radar"
)

// Metrics receives publish outcomes. metrics.Collector implements it.
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc      conn
	prefix  string
	metrics Metrics

	mu     sync.Mutex
	rideID string
}

var _ radar.Listener = (*NATSPublisher)(nil)

// NewNATSPublisher connects to url. m may be nil.
func NewNATSPublisher(url, prefix string, m Metrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("route-radar"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			monitoring.Logf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			monitoring.Logf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			monitoring.Logf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, prefix, m), nil
}

func newPublisher(nc conn, prefix string, m Metrics) *NATSPublisher {
	if prefix == "" {
		prefix = "radar"
	}
	return &NATSPublisher{nc: nc, prefix: subjectToken(prefix), metrics: m, rideID: "_"}
}

// SetRide switches the ride token used in subjects.
func (p *NATSPublisher) SetRide(id string) {
	p.mu.Lock()
	p.rideID = subjectToken(id)
	p.mu.Unlock()
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// AlarmMessage is the JSON payload of an alarm subject.
type AlarmMessage struct {
	Ride     string    `json:"ride"`
	Kind     string    `json:"kind"`
	Time     time.Time `json:"time"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Distance float64   `json:"distance"`
	Waypoint string    `json:"waypoint,omitempty"`
}

// TextMessage is the JSON payload of <prefix>.<ride>.message.
type TextMessage struct {
	Ride string    `json:"ride"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

func (p *NATSPublisher) ride() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rideID
}

// Subject returns the subject for a kind token on the current ride.
func (p *NATSPublisher) Subject(kind string) string {
	return p.prefix + "." + p.ride() + "." + subjectToken(kind)
}

func (p *NATSPublisher) OnAlarm(e radar.Event) {
	ride := p.ride()
	p.publish(p.Subject(e.Kind.String()), AlarmMessage{
		Ride:     ride,
		Kind:     e.Kind.String(),
		Time:     e.Time,
		Lat:      e.Position.Lat,
		Lon:      e.Position.Lon,
		Distance: e.Distance,
		Waypoint: e.Waypoint,
	})
}

func (p *NATSPublisher) OnMessage(t time.Time, text string) {
	p.publish(p.Subject("message"), TextMessage{Ride: p.ride(), Time: t, Text: text})
}

func (p *NATSPublisher) publish(subject string, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		monitoring.Logf("nats: marshal %s: %v", subject, err)
		return
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		monitoring.Logf("nats publish %s: %v", subject, err)
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
