package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run origins.
const (
	OriginAPI     = "api"
	OriginSample  = "sample"
	OriginOffline = "offline"
)

// Run is one recorded collection.
type Run struct {
	ID         string
	Year       int
	Origin     string
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
	Stats      json.RawMessage
}

// Succeeded reports whether the run finished without error.
func (r Run) Succeeded() bool {
	return !r.FinishedAt.IsZero() && r.Error == ""
}

// StartRun records the start of a collection and returns its ID.
func (db *DB) StartRun(year int, origin string) (string, error) {
	id := uuid.NewString()
	started := db.timestamp()
	err := db.Update(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO runs (id, year, origin, started_at)
			 VALUES (?, ?, ?, ?)`,
			id, year, origin, started,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run as done. stats is stored when runErr is
// nil; otherwise the error text is kept.
func (db *DB) FinishRun(id string, stats any, runErr error) error {
	var (
		data   sql.NullString
		errMsg sql.NullString
	)
	if runErr != nil {
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	} else if stats != nil {
		b, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("encoding run stats: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}
	finished := db.timestamp()
	return db.Update(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE runs SET finished_at = ?, error = ?, stats = ?
			 WHERE id = ?`,
			finished, errMsg, data, id,
		)
		if err != nil {
			return fmt.Errorf("finishing run %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("finishing run %s: not found", id)
		}
		return nil
	})
}

// LastSuccessfulRun returns the newest run of origin that
// finished without error, or nil when there is none. A zero
// year matches every year.
func (db *DB) LastSuccessfulRun(
	ctx context.Context, origin string, year int,
) (*Run, error) {
	row := db.reader.QueryRowContext(ctx,
		`SELECT id, year, origin, started_at, finished_at,
		        coalesce(error, ''), coalesce(stats, '')
		 FROM runs
		 WHERE origin = ? AND (? = 0 OR year = ?)
		   AND finished_at IS NOT NULL AND error IS NULL
		 ORDER BY started_at DESC
		 LIMIT 1`,
		origin, year, year,
	)
	var (
		r                 Run
		started, finished string
		stats             string
	)
	err := row.Scan(
		&r.ID, &r.Year, &r.Origin, &started, &finished,
		&r.Error, &stats,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading last run: %w", err)
	}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	if stats != "" {
		r.Stats = json.RawMessage(stats)
	}
	return &r, nil
}
