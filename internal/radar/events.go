package radar

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/route.radar/internal/geo"
)

// AlarmKind identifies an alarm raised to the rider.
type AlarmKind int

const (
	Engaged AlarmKind = iota
	Disengage
	OffTrack
	BackOnTrack
	GpsLost
	Crossroad
	GoAhead
	LeftEasy
	RightEasy
	LeftCross
	RightCross
	LeftSharp
	RightSharp
)

var kindNames = [...]string{
	Engaged:     "engaged",
	Disengage:   "disengage",
	OffTrack:    "off_track",
	BackOnTrack: "back_on_track",
	GpsLost:     "gps_lost",
	Crossroad:   "crossroad",
	GoAhead:     "go_ahead",
	LeftEasy:    "left_easy",
	RightEasy:   "right_easy",
	LeftCross:   "left_cross",
	RightCross:  "right_cross",
	LeftSharp:   "left_sharp",
	RightSharp:  "right_sharp",
}

// AllAlarmKinds returns every kind in declaration order.
func AllAlarmKinds() []AlarmKind {
	out := make([]AlarmKind, len(kindNames))
	for i := range kindNames {
		out[i] = AlarmKind(i)
	}
	return out
}

func (k AlarmKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("AlarmKind(%d)", int(k))
	}
	return kindNames[k]
}

// IsTurn reports whether k announces a turn ahead.
func (k AlarmKind) IsTurn() bool { return k >= Crossroad && int(k) < len(kindNames) }

// ParseAlarmKind is the inverse of String.
func ParseAlarmKind(s string) (AlarmKind, error) {
	for i, name := range kindNames {
		if name == s {
			return AlarmKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown alarm kind %q", s)
}

func (k AlarmKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *AlarmKind) UnmarshalText(b []byte) error {
	v, err := ParseAlarmKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Event is one fired alarm.
type Event struct {
	Kind     AlarmKind `json:"kind"`
	Time     time.Time `json:"time"`
	Position geo.Point `json:"position"`
	// Distance is to the route for engagement alarms and to the turn for
	// turn alarms. It is zero when unknown.
	Distance float64 `json:"distance"`
	Waypoint string  `json:"waypoint,omitempty"`
}

// Listener receives alarms and diagnostic messages. Calls are made with the
// engine lock held, so a listener must not call back into the engine.
type Listener interface {
	OnAlarm(e Event)
	OnMessage(t time.Time, text string)
}

// Message is a diagnostic line emitted alongside alarms.
type Message struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Recorder is a Listener that keeps the most recent alarms and messages.
type Recorder struct {
	mu       sync.Mutex
	limit    int
	events   []Event
	messages []Message
}

// NewRecorder keeps at most limit entries of each kind; zero keeps all.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) OnAlarm(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append(r.events[:0], r.events[len(r.events)-r.limit:]...)
	}
}

func (r *Recorder) OnMessage(t time.Time, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Time: t, Text: text})
	if r.limit > 0 && len(r.messages) > r.limit {
		r.messages = append(r.messages[:0], r.messages[len(r.messages)-r.limit:]...)
	}
}

// Events returns the recorded alarms, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Since returns the alarms fired strictly after t.
func (r *Recorder) Since(t time.Time) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Time.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// Kinds returns the kinds of the recorded alarms, oldest first.
func (r *Recorder) Kinds() []AlarmKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AlarmKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Messages returns the recorded diagnostic messages, oldest first.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events, r.messages = nil, nil
	r.mu.Unlock()
}
