package db

import (
	"fmt"
	"time"

	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/radar"
)

// RecordAlarm stores one alarm event of a ride.
func (db *DB) RecordAlarm(rideID string, e radar.Event) error {
	_, err := db.Exec(`
		INSERT INTO alarms (ride_id, kind, at_ms, lat, lon, distance, waypoint)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rideID, e.Kind.String(), millis(e.Time), e.Position.Lat, e.Position.Lon, e.Distance, e.Waypoint)
	if err != nil {
		return fmt.Errorf("record %s for ride %s: %w", e.Kind, rideID, err)
	}
	return nil
}

// Alarms returns the alarms of a ride in time order. A positive limit keeps
// only the most recent ones.
func (db *DB) Alarms(rideID string, limit int) ([]radar.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT kind, at_ms, lat, lon, distance, waypoint FROM (
			SELECT * FROM alarms WHERE ride_id = ?
			ORDER BY at_ms DESC, alarm_id DESC LIMIT ?
		) ORDER BY at_ms ASC, alarm_id ASC`, rideID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []radar.Event
	for rows.Next() {
		var kind string
		var at int64
		var e radar.Event
		if err := rows.Scan(&kind, &at, &e.Position.Lat, &e.Position.Lon, &e.Distance, &e.Waypoint); err != nil {
			return nil, err
		}
		k, err := radar.ParseAlarmKind(kind)
		if err != nil {
			return nil, err
		}
		e.Kind = k
		e.Time = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AlarmCounts returns the number of alarms per kind for a ride.
func (db *DB) AlarmCounts(rideID string) (map[radar.AlarmKind]int, error) {
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM alarms WHERE ride_id = ? GROUP BY kind`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[radar.AlarmKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		k, err := radar.ParseAlarmKind(kind)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

// RecordMessage stores a ride message.
func (db *DB) RecordMessage(rideID string, at time.Time, text string) error {
	_, err := db.Exec(`INSERT INTO ride_messages (ride_id, at_ms, text) VALUES (?, ?, ?)`,
		rideID, millis(at), text)
	return err
}

// Messages returns the messages of a ride in time order.
func (db *DB) Messages(rideID string) ([]radar.Message, error) {
	rows, err := db.Query(`SELECT at_ms, text FROM ride_messages WHERE ride_id = ? ORDER BY at_ms, message_id`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []radar.Message
	for rows.Next() {
		var at int64
		var m radar.Message
		if err := rows.Scan(&at, &m.Text); err != nil {
			return nil, err
		}
		m.Time = fromMillis(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

// RideRecorder is a radar listener writing alarms and messages of one ride
// to the database. Write errors are logged, not returned, so a full disk
// never stalls the alarm path.
type RideRecorder struct {
	db     *DB
	rideID string
}

var _ radar.Listener = (*RideRecorder)(nil)

// NewRideRecorder returns a listener recording into rideID.
func NewRideRecorder(db *DB, rideID string) *RideRecorder {
	return &RideRecorder{db: db, rideID: rideID}
}

// RideID returns the ride being recorded.
func (r *RideRecorder) RideID() string { return r.rideID }

func (r *RideRecorder) OnAlarm(e radar.Event) {
	if err := r.db.RecordAlarm(r.rideID, e); err != nil {
		monitoring.Logf("db: %v", err)
	}
}

func (r *RideRecorder) OnMessage(t time.Time, text string) {
	if err := r.db.RecordMessage(r.rideID, t, text); err != nil {
		monitoring.Logf("db: record message: %v", err)
	}
}
