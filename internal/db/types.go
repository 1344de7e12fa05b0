package db

import (
	"context"
	"time"

	"cvewatch/internal/model"
)

// Delivery states. A report goes Pending -> Sending -> {Delivered | Failed};
// manual verification goes TestPending -> TestSent.
const (
	StatePending     = "pending"
	StateSending     = "sending"
	StateDelivered   = "delivered"
	StateFailed      = "failed"
	StateTestPending = "test_pending"
	StateTestSent    = "test_sent"
)

// Delivery is one persisted delivery attempt. The (organization, project,
// notification, period start) tuple is the idempotency key.
type Delivery struct {
	ID           string    `json:"id"`
	Organization string    `json:"organization"`
	Project      string    `json:"project"`
	Notification string    `json:"notification"`
	Channel      string    `json:"channel"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	State        string    `json:"state"`
	StatusCode   int       `json:"status_code"`
	Error        string    `json:"error"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StoredEvent is a change event as persisted in the append-only history.
type StoredEvent struct {
	CVEID     string          `json:"cve_id"`
	Seq       int64           `json:"seq"`
	Type      model.EventType `json:"type"`
	Data      []byte          `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store interface defines the methods for persistent storage
type Store interface {
	Close() error

	// Canonical records
	GetRecord(ctx context.Context, cveID string) (*model.CanonicalRecord, error)
	PutRecord(ctx context.Context, rec *model.CanonicalRecord) error

	// Append-only change history. Sequence numbers are assigned on append,
	// monotonic per record. EventsInWindow returns every event created in
	// [start, end), across records, so an interrupted run's reports can be
	// rebuilt from persisted state.
	AppendEvents(ctx context.Context, events []model.ChangeEvent) ([]model.ChangeEvent, error)
	GetEvents(ctx context.Context, cveID string) ([]StoredEvent, error)
	EventsInWindow(ctx context.Context, start, end time.Time) ([]StoredEvent, error)

	// Project-relative record sightings (first_time support)
	HasSeen(ctx context.Context, org, project, cveID string) (bool, error)
	MarkSeen(ctx context.Context, org, project, cveID string) error

	// Delivery log. BeginDelivery claims the idempotency key: it returns false
	// when the pair was already delivered or is being sent, and reuses the row
	// of a failed or stale pending attempt for a retry.
	BeginDelivery(ctx context.Context, d *Delivery) (bool, error)
	FinishDelivery(ctx context.Context, id, state string, statusCode int, errText string) error
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
}
