package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cvewatch/internal/model"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store and applies migrations
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS records (
			cve_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id SERIAL PRIMARY KEY,
			cve_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			type TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (cve_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS sightings (
			organization TEXT NOT NULL,
			project TEXT NOT NULL,
			cve_id TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (organization, project, cve_id)
		);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			organization TEXT NOT NULL,
			project TEXT NOT NULL,
			notification TEXT NOT NULL,
			channel TEXT NOT NULL,
			period_start TIMESTAMP NOT NULL,
			period_end TIMESTAMP NOT NULL,
			state TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetRecord returns the canonical record, or nil when the identifier is unknown.
func (s *PostgresStore) GetRecord(ctx context.Context, cveID string) (*model.CanonicalRecord, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM records WHERE cve_id = $1`, cveID).Scan(&content)
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
func (s *PostgresStore) PutRecord(ctx context.Context, rec *model.CanonicalRecord) error {
	content, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (cve_id, content, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (cve_id) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		rec.CVEID, string(content), rec.UpdatedAt)
	return err
}

// AppendEvents persists events with per-record monotonic sequence numbers.
// Within a transaction the MAX(seq) row is locked via the unique index, so
// concurrent appends for one record serialize.
func (s *PostgresStore) AppendEvents(ctx context.Context, events []model.ChangeEvent) ([]model.ChangeEvent, error) {
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
				`SELECT COALESCE(MAX(seq), 0) FROM events WHERE cve_id = $1`, ev.CVEID).Scan(&seq); err != nil {
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
			`INSERT INTO events (cve_id, seq, type, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
			ev.CVEID, seq, string(ev.Type), string(payload), ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Seq = seq
		out = append(out, ev)
	}
	return out, tx.Commit()
}

// GetEvents returns the full stored history of a record, sequence order.
func (s *PostgresStore) GetEvents(ctx context.Context, cveID string) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cve_id, seq, type, data, created_at FROM events WHERE cve_id = $1 ORDER BY seq`, cveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsInWindow returns every stored event created in [start, end), grouped
// by record and in sequence order.
func (s *PostgresStore) EventsInWindow(ctx context.Context, start, end time.Time) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cve_id, seq, type, data, created_at FROM events
		 WHERE created_at >= $1 AND created_at < $2 ORDER BY cve_id, seq`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// HasSeen reports whether the project has already sighted the record.
func (s *PostgresStore) HasSeen(ctx context.Context, org, project, cveID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sightings WHERE organization = $1 AND project = $2 AND cve_id = $3`,
		org, project, cveID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkSeen records the project-relative sighting. Idempotent.
func (s *PostgresStore) MarkSeen(ctx context.Context, org, project, cveID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sightings (organization, project, cve_id) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		org, project, cveID)
	return err
}

// BeginDelivery claims the (org, project, notification, period) idempotency key.
func (s *PostgresStore) BeginDelivery(ctx context.Context, d *Delivery) (bool, error) {
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
		WHERE organization = $1 AND project = $2 AND notification = $3 AND period_start = $4
		FOR UPDATE`,
		d.Organization, d.Project, d.Notification, d.PeriodStart).Scan(&id, &state, &attempts)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deliveries
				(id, organization, project, notification, channel, period_start, period_end,
				 state, attempts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)`,
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
			UPDATE deliveries SET state = $1, attempts = attempts + 1, error = '', status_code = 0, updated_at = $2
			WHERE id = $3`, d.State, now, id); err != nil {
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
func (s *PostgresStore) FinishDelivery(ctx context.Context, id, state string, statusCode int, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET state = $1, status_code = $2, error = $3, updated_at = $4 WHERE id = $5`,
		state, statusCode, errText, time.Now().UTC(), id)
	return err
}

// RecentDeliveries retrieves the most recent delivery attempts
func (s *PostgresStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization, project, notification, channel, period_start, period_end,
		       state, status_code, error, attempts, created_at, updated_at
		FROM deliveries ORDER BY updated_at DESC LIMIT $1`, limit)
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
