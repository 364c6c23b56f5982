// Package history implements an optional, best-effort measurement-
// history exporter backed by Postgres. This is explicitly NOT model
// storage (the process-wide facade is the only source of truth for
// active models); it is a supplemental sink so measurement data
// survives past the process's lifetime for offline analysis, adapted
// from the teacher's Repository.
package history

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Exporter writes measurement snapshots to Postgres. Every method is
// best-effort: a failed write is logged and returned, but the caller
// (the facade's flush path) must never let a history failure affect
// the in-memory reduction it ran alongside.
type Exporter struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New opens a connection pool against databaseURL. Schema migration is
// out of scope; the caller is expected to have already applied the
// measurement_snapshots table migration.
func New(databaseURL string, logger *zap.Logger) (*Exporter, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Exporter{db: db, logger: logger}, nil
}

func (e *Exporter) Close() error { return e.db.Close() }

func (e *Exporter) Ping() error { return e.db.Ping() }

func (e *Exporter) Stats() sql.DBStats { return e.db.Stats() }

// Snapshot is one row of exported measurement history: a region's
// best-known policy for one feature vector, as of one flush cycle.
type Snapshot struct {
	ID         string    `db:"id"`
	Rank       int32     `db:"rank"`
	RegionName string    `db:"region_name"`
	Policy     int       `db:"policy"`
	AvgTimeSec float64   `db:"avg_time_seconds"`
	RecordedAt time.Time `db:"recorded_at"`
}

// WriteSnapshots inserts one row per global best-policy entry from a
// flush cycle. Errors are returned for the caller to log; callers
// should not retry synchronously since a delayed history write has no
// correctness impact on autotuning itself.
func (e *Exporter) WriteSnapshots(snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	const query = `
		INSERT INTO measurement_snapshots (id, rank, region_name, policy, avg_time_seconds, recorded_at)
		VALUES (:id, :rank, :region_name, :policy, :avg_time_seconds, :recorded_at)
	`
	_, err := e.db.NamedExec(query, snapshots)
	if err != nil {
		e.logger.Warn("history: failed to write measurement snapshots", zap.Error(err))
	}
	return err
}

// RecentSnapshots returns the most recent snapshots for a region,
// newest first, for operator inspection. Neither apollod nor apollo-ctl
// calls it.
func (e *Exporter) RecentSnapshots(regionName string, limit int) ([]Snapshot, error) {
	var out []Snapshot
	const query = `
		SELECT id, rank, region_name, policy, avg_time_seconds, recorded_at
		FROM measurement_snapshots
		WHERE region_name = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`
	if err := e.db.Select(&out, query, regionName, limit); err != nil {
		return nil, err
	}
	return out, nil
}
