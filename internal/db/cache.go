package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/iHildy/jules-wrapped/internal/jules"
)

// Snapshot is everything one successful collection fetched.
// Activities maps session names to their timelines.
type Snapshot struct {
	Sessions   []jules.Session
	Sources    []jules.Source
	Activities map[string][]jules.Activity
}

// SaveSnapshot replaces the cached account data with snap in a
// single transaction. Sessions missing from snap lose their
// activities; sessions listed in snap without fetched activities
// keep the timeline cached by an earlier run.
func (db *DB) SaveSnapshot(snap Snapshot) error {
	fetched := db.timestamp()
	return db.Update(func(tx *sql.Tx) error {
		if err := replaceSessions(tx, snap.Sessions, fetched); err != nil {
			return err
		}
		if err := replaceSources(tx, snap.Sources, fetched); err != nil {
			return err
		}
		for _, name := range slices.Sorted(maps.Keys(snap.Activities)) {
			err := replaceActivities(tx, name, snap.Activities[name])
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func replaceSessions(tx *sql.Tx, sessions []jules.Session, fetched string) error {
	if _, err := tx.Exec(
		`DELETE FROM activities WHERE session_name NOT IN
		 (SELECT value FROM json_each(?))`,
		sessionNamesJSON(sessions),
	); err != nil {
		return fmt.Errorf("pruning activities: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO sessions
		 (name, position, create_time, update_time, state,
		  data, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, s := range sessions {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encoding session %s: %w", s.Name, err)
		}
		if _, err := stmt.Exec(
			s.Name, i, s.CreateTime, s.UpdateTime, s.State,
			string(data), fetched,
		); err != nil {
			return fmt.Errorf("inserting session %s: %w", s.Name, err)
		}
	}
	return nil
}

func sessionNamesJSON(sessions []jules.Session) string {
	names := make([]string, len(sessions))
	for i, s := range sessions {
		names[i] = s.Name
	}
	data, _ := json.Marshal(names)
	return string(data)
}

func replaceSources(tx *sql.Tx, sources []jules.Source, fetched string) error {
	if _, err := tx.Exec("DELETE FROM sources"); err != nil {
		return fmt.Errorf("clearing sources: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO sources (name, position, data, fetched_at)
		 VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, src := range sources {
		data, err := json.Marshal(src)
		if err != nil {
			return fmt.Errorf("encoding source %s: %w", src.Name, err)
		}
		if _, err := stmt.Exec(
			src.Name, i, string(data), fetched,
		); err != nil {
			return fmt.Errorf("inserting source %s: %w", src.Name, err)
		}
	}
	return nil
}

func replaceActivities(
	tx *sql.Tx, sessionName string, activities []jules.Activity,
) error {
	if _, err := tx.Exec(
		"DELETE FROM activities WHERE session_name = ?",
		sessionName,
	); err != nil {
		return fmt.Errorf("clearing activities: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO activities
		 (session_name, ordinal, create_time, kind, data)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, a := range activities {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encoding activity %s: %w", a.Name, err)
		}
		if _, err := stmt.Exec(
			sessionName, i, a.CreateTime, string(a.Kind), string(data),
		); err != nil {
			return fmt.Errorf("inserting activity %s: %w", a.Name, err)
		}
	}
	return nil
}

// ListSessions returns the cached sessions in listing order.
func (db *DB) ListSessions(ctx context.Context) ([]jules.Session, error) {
	return queryJSON[jules.Session](ctx, db.reader,
		"SELECT data FROM sessions ORDER BY position",
	)
}

// ListSources returns the cached sources in listing order.
func (db *DB) ListSources(ctx context.Context) ([]jules.Source, error) {
	return queryJSON[jules.Source](ctx, db.reader,
		"SELECT data FROM sources ORDER BY position",
	)
}

// ListActivities returns the cached timeline of one session,
// empty when it was never fetched.
func (db *DB) ListActivities(
	ctx context.Context, sessionName string,
) ([]jules.Activity, error) {
	return queryJSON[jules.Activity](ctx, db.reader,
		`SELECT data FROM activities
		 WHERE session_name = ? ORDER BY ordinal`,
		sessionName,
	)
}

// CountActivities returns the number of cached activities.
func (db *DB) CountActivities(ctx context.Context) (int, error) {
	var n int
	err := db.reader.QueryRowContext(ctx,
		"SELECT count(*) FROM activities",
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting activities: %w", err)
	}
	return n, nil
}

func queryJSON[T any](
	ctx context.Context, q *sql.DB, query string, args ...any,
) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning cache row: %w", err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decoding cache row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
