package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cvewatch/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and applies migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Serialized writes keep per-identifier merge transactions simple.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS records (
			cve_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cve_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (cve_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS sightings (
			organization TEXT NOT NULL,
			project TEXT NOT NULL,
			cve_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (organization, project, cve_id)
		);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			organization TEXT NOT NULL,
			project TEXT NOT NULL,
			notification TEXT NOT NULL,
			channel TEXT NOT NULL,
			period_start DATETIME NOT NULL,
			period_end DATETIME NOT NULL,
			state TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (organization, project, notification, period_start)
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetRecord returns the canonical record, or nil when the identifier is unknown.
func (s *SQLiteStore) GetRecord(ctx context.Context, cveID string) (*model.CanonicalRecord, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM records WHERE cve_id = ?`, cveID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec model.CanonicalRecord
	if err := json.Unmarshal([]byte(content), &rec); err != nil {
		return nil, fmt.Errorf("corrupt canonical record %s: %w", cveID, err)
	}
	return &rec, nil
}

// PutRecord upserts the canonical record.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec *model.CanonicalRecord) error {
	content, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (cve_id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (cve_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		rec.CVEID, string(content), rec.UpdatedAt)
	return err
}

// AppendEvents persists events with per-record monotonic sequence numbers and
// returns the events with their assigned sequences.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.ChangeEvent) ([]model.ChangeEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]model.ChangeEvent, 0, len(events))
	nextSeq := map[string]int64{}
	for _, ev := range events {
		seq, ok := nextSeq[ev.CVEID]
		if !ok {
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(seq), 0) FROM events WHERE cve_id = ?`, ev.CVEID).Scan(&seq); err != nil {
				return nil, err
			}
		}
		seq++
		nextSeq[ev.CVEID] = seq

		data := ev.Data
		if data == nil {
			data = model.CreatedData{}
		}
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (cve_id, seq, type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
			ev.CVEID, seq, string(ev.Type), string(payload), ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Seq = seq
		out = append(out, ev)
	}
	return out, tx.Commit()
}

// GetEvents returns the full stored history of a record, sequence order.
func (s *SQLiteStore) GetEvents(ctx context.Context, cveID string) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cve_id, seq, type, data, created_at FROM events WHERE cve_id = ? ORDER BY seq`, cveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsInWindow returns every stored event created in [start, end), grouped
// by record and in sequence order.
func (s *SQLiteStore) EventsInWindow(ctx context.Context, start, end time.Time) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cve_id, seq, type, data, created_at FROM events
		 WHERE created_at >= ? AND created_at < ? ORDER BY cve_id, seq`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var typ, data string
		if err := rows.Scan(&ev.CVEID, &ev.Seq, &typ, &data, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(typ)
		ev.Data = []byte(data)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// HasSeen reports whether the project has already sighted the record.
func (s *SQLiteStore) HasSeen(ctx context.Context, org, project, cveID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sightings WHERE organization = ? AND project = ? AND cve_id = ?`,
		org, project, cveID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkSeen records the project-relative sighting. Idempotent.
func (s *SQLiteStore) MarkSeen(ctx context.Context, org, project, cveID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sightings (organization, project, cve_id) VALUES (?, ?, ?)`,
		org, project, cveID)
	return err
}

// BeginDelivery claims the (org, project, notification, period) idempotency
// key. A pair already delivered, or currently being sent, is not claimed
// again; a failed or stale pending pair is reclaimed for a retry.
func (s *SQLiteStore) BeginDelivery(ctx context.Context, d *Delivery) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var id, state string
	var attempts int
	err = tx.QueryRowContext(ctx, `
		SELECT id, state, attempts FROM deliveries
		WHERE organization = ? AND project = ? AND notification = ? AND period_start = ?`,
		d.Organization, d.Project, d.Notification, d.PeriodStart).Scan(&id, &state, &attempts)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deliveries
				(id, organization, project, notification, channel, period_start, period_end,
				 state, attempts, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			d.ID, d.Organization, d.Project, d.Notification, d.Channel,
			d.PeriodStart, d.PeriodEnd, d.State, now, now); err != nil {
			return false, err
		}
		d.Attempts = 1
		return true, tx.Commit()
	case err != nil:
		return false, err
	case state == StateFailed || state == StatePending:
		if _, err := tx.ExecContext(ctx, `
			UPDATE deliveries SET state = ?, attempts = attempts + 1, error = '', status_code = 0, updated_at = ?
			WHERE id = ?`, d.State, now, id); err != nil {
			return false, err
		}
		d.ID = id
		d.Attempts = attempts + 1
		return true, tx.Commit()
	default:
		return false, nil
	}
}

// FinishDelivery records the terminal state of an attempt.
func (s *SQLiteStore) FinishDelivery(ctx context.Context, id, state string, statusCode int, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET state = ?, status_code = ?, error = ?, updated_at = ? WHERE id = ?`,
		state, statusCode, errText, time.Now().UTC(), id)
	return err
}

// RecentDeliveries retrieves the most recent delivery attempts
func (s *SQLiteStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization, project, notification, channel, period_start, period_end,
		       state, status_code, error, attempts, created_at, updated_at
		FROM deliveries ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.Organization, &d.Project, &d.Notification, &d.Channel,
			&d.PeriodStart, &d.PeriodEnd, &d.State, &d.StatusCode, &d.Error, &d.Attempts,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
