package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ride is one run of the radar over a plan.
type Ride struct {
	ID      string     `json:"id"`
	PlanID  int64      `json:"plan_id"`
	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
}

// StartRide records a new ride over planID and returns it.
func (db *DB) StartRide(planID int64, started time.Time) (Ride, error) {
	r := Ride{ID: uuid.NewString(), PlanID: planID, Started: started.UTC()}
	_, err := db.Exec(`INSERT INTO rides (ride_id, plan_id, started_ms) VALUES (?, ?, ?)`,
		r.ID, planID, millis(started))
	if err != nil {
		return Ride{}, fmt.Errorf("start ride on plan %d: %w", planID, err)
	}
	return r, nil
}

// EndRide stamps the end time of a ride.
func (db *DB) EndRide(id string, ended time.Time) error {
	res, err := db.Exec(`UPDATE rides SET ended_ms = ? WHERE ride_id = ?`, millis(ended), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRide returns a single ride.
func (db *DB) GetRide(id string) (Ride, error) {
	row := db.QueryRow(`SELECT ride_id, plan_id, started_ms, ended_ms FROM rides WHERE ride_id = ?`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Ride{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	return r, err
}

// Rides lists the rides of a plan, newest first. planID 0 lists all rides.
func (db *DB) Rides(planID int64) ([]Ride, error) {
	rows, err := db.Query(`
		SELECT ride_id, plan_id, started_ms, ended_ms FROM rides
		WHERE ? = 0 OR plan_id = ?
		ORDER BY started_ms DESC`, planID, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (Ride, error) {
	var r Ride
	var started int64
	var ended sql.NullInt64
	if err := s.Scan(&r.ID, &r.PlanID, &started, &ended); err != nil {
		return Ride{}, err
	}
	r.Started = fromMillis(started)
	if ended.Valid {
		t := fromMillis(ended.Int64)
		r.Ended = &t
	}
	return r, nil
}
