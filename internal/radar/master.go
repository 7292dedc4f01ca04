package radar

import (
	"fmt"
	"time"
)

// AlarmMaster is the single point alarms leave the engine through. Alarms
// raised while handling one update are queued and released together by
// Flush so that a Disengage can silence turn alarms of the same update.
// It is not safe for concurrent use; RadarCore serialises access.
type AlarmMaster struct {
	listeners []Listener
	lastFired map[AlarmKind]time.Time
	batch     []Event
}

// NewAlarmMaster returns a master dispatching to listeners.
func NewAlarmMaster(listeners ...Listener) *AlarmMaster {
	return &AlarmMaster{
		listeners: listeners,
		lastFired: make(map[AlarmKind]time.Time),
	}
}

// AddListener registers l for subsequent alarms.
func (m *AlarmMaster) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Queue adds e to the current batch.
func (m *AlarmMaster) Queue(e Event) {
	m.batch = append(m.batch, e)
}

// Messagef sends a diagnostic message to every listener immediately.
func (m *AlarmMaster) Messagef(t time.Time, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	for _, l := range m.listeners {
		l.OnMessage(t, text)
	}
}

// Flush dispatches the queued batch and returns what was delivered.
func (m *AlarmMaster) Flush() []Event {
	batch := m.batch
	m.batch = nil
	if len(batch) == 0 {
		return nil
	}

	disengaged := false
	for _, e := range batch {
		if e.Kind == Disengage {
			disengaged = true
			break
		}
	}
	out := batch[:0]
	for _, e := range batch {
		if disengaged && e.Kind.IsTurn() {
			continue
		}
		out = append(out, e)
	}

	for _, e := range out {
		m.lastFired[e.Kind] = e.Time
		for _, l := range m.listeners {
			l.OnAlarm(e)
		}
	}
	return out
}

// LastFired returns when an alarm of kind k was last delivered.
func (m *AlarmMaster) LastFired(k AlarmKind) (time.Time, bool) {
	t, ok := m.lastFired[k]
	return t, ok
}

// Reset forgets the pending batch and the firing history.
func (m *AlarmMaster) Reset() {
	m.batch = nil
	m.lastFired = make(map[AlarmKind]time.Time)
}
