package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/route.radar/internal/plan"
)

// ErrNotFound is returned when a plan or ride does not exist.
var ErrNotFound = errors.New("db: not found")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// EncodeSource serialises a plan source as zstd-compressed msgpack.
func EncodeSource(src plan.Source) ([]byte, error) {
	raw, err := msgpack.Marshal(&src)
	if err != nil {
		return nil, fmt.Errorf("encode plan source: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// DecodeSource reverses EncodeSource.
func DecodeSource(blob []byte) (plan.Source, error) {
	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return plan.Source{}, fmt.Errorf("decompress plan source: %w", err)
	}
	var src plan.Source
	if err := msgpack.Unmarshal(raw, &src); err != nil {
		return plan.Source{}, fmt.Errorf("decode plan source: %w", err)
	}
	return src, nil
}

// PlanInfo describes a stored plan without its source.
type PlanInfo struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Tracks    int       `json:"tracks"`
	Waypoints int       `json:"waypoints"`
	Created   time.Time `json:"created"`
	Size      int       `json:"size"`
}

// SavePlan stores src under its name, replacing an existing plan of the same
// name, and returns its ID.
func (db *DB) SavePlan(src plan.Source) (int64, error) {
	if src.Name == "" {
		return 0, errors.New("db: plan name is required")
	}
	blob, err := EncodeSource(src)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.QueryRow(`
		INSERT INTO plans (name, source, tracks, waypoints, created_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			source = excluded.source,
			tracks = excluded.tracks,
			waypoints = excluded.waypoints,
			created_ms = excluded.created_ms
		RETURNING plan_id`,
		src.Name, blob, len(src.Tracks), len(src.Waypoints), millis(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save plan %q: %w", src.Name, err)
	}
	return id, nil
}

// LoadPlan returns the source of the plan with the given ID.
func (db *DB) LoadPlan(id int64) (plan.Source, error) {
	var blob []byte
	err := db.QueryRow(`SELECT source FROM plans WHERE plan_id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Source{}, fmt.Errorf("plan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return plan.Source{}, err
	}
	return DecodeSource(blob)
}

// PlanByName returns the ID of the named plan.
func (db *DB) PlanByName(name string) (int64, error) {
	var id int64
	err := db.QueryRow(`SELECT plan_id FROM plans WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("plan %q: %w", name, ErrNotFound)
	}
	return id, err
}

// Plans lists stored plans, newest first.
func (db *DB) Plans() ([]PlanInfo, error) {
	rows, err := db.Query(`
		SELECT plan_id, name, tracks, waypoints, created_ms, length(source)
		FROM plans ORDER BY created_ms DESC, plan_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlanInfo
	for rows.Next() {
		var p PlanInfo
		var created int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Tracks, &p.Waypoints, &created, &p.Size); err != nil {
			return nil, err
		}
		p.Created = fromMillis(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePlan removes a plan together with its rides and alarms.
func (db *DB) DeletePlan(id int64) error {
	res, err := db.Exec(`DELETE FROM plans WHERE plan_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %d: %w", id, ErrNotFound)
	}
	return nil
}
