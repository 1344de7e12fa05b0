package notify

import (
	"context"
	"log/slog"
	"time"

	"cvewatch/internal/db"
	"cvewatch/internal/metrics"
	"cvewatch/internal/model"
	"cvewatch/internal/runner"

	"github.com/google/uuid"
)

// DeliveryLog is the slice of the storage layer the dispatcher needs.
type DeliveryLog interface {
	BeginDelivery(ctx context.Context, d *db.Delivery) (bool, error)
	FinishDelivery(ctx context.Context, id, state string, statusCode int, errText string) error
}

// Outbound pairs a built report with the notification config that owns it.
type Outbound struct {
	Report *model.Report
	Config *model.NotificationConfig
}

// Dispatcher drives the delivery state machine: each report goes
// Pending -> Sending -> {Delivered | Failed}, at most once per
// (notification, period). Deliveries run on a bounded worker pool so one slow
// endpoint never blocks the batch, and each delivery times out individually.
type Dispatcher struct {
	log     DeliveryLog
	smtp    SMTPConfig
	workers int
	timeout time.Duration
	metrics *metrics.Metrics

	// newNotifier is swappable in tests.
	newNotifier func(*model.NotificationConfig) Notifier
}

// NewDispatcher creates a dispatcher with the given delivery concurrency and
// per-delivery timeout. A non-positive timeout falls back to 10s; metrics may
// be nil.
func NewDispatcher(log DeliveryLog, smtp SMTPConfig, workers int, timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		log:     log,
		smtp:    smtp,
		workers: workers,
		timeout: timeout,
		metrics: m,
	}
	d.newNotifier = d.defaultNotifier
	return d
}

func (d *Dispatcher) defaultNotifier(cfg *model.NotificationConfig) Notifier {
	switch cfg.Type {
	case model.ChannelEmail:
		return NewEmailNotifier(d.smtp, cfg.Email)
	default:
		return NewWebhookNotifier(cfg.Webhook)
	}
}

// DispatchAll delivers every report across the worker pool and blocks until
// all of them reach a terminal state. Cancelling ctx stops issuing new
// dispatches; in-flight ones finish or time out on their own clock.
func (d *Dispatcher) DispatchAll(ctx context.Context, outbounds []Outbound) {
	pool := runner.NewWorkerPool(d.workers)
	pool.Start()
	defer pool.Stop()

	for i, ob := range outbounds {
		if ctx.Err() != nil {
			slog.Info("run cancelled, not issuing further dispatches",
				"remaining", len(outbounds)-i)
			break
		}
		ob := ob
		pool.Submit(func() error {
			d.dispatchOne(ctx, ob)
			return nil
		})
	}
	pool.Wait()
}

// dispatchOne runs the full state machine for a single report. Failures are
// terminal for this run and recorded in the delivery log; they never propagate
// as pipeline errors.
func (d *Dispatcher) dispatchOne(ctx context.Context, ob Outbound) {
	rep, cfg := ob.Report, ob.Config
	if !cfg.Enabled {
		return
	}

	delivery := &db.Delivery{
		ID:           uuid.NewString(),
		Organization: rep.Organization,
		Project:      rep.Project,
		Notification: rep.Notification,
		Channel:      cfg.Type,
		PeriodStart:  rep.Period.Start,
		PeriodEnd:    rep.Period.End,
		State:        db.StatePending,
	}
	claimed, err := d.log.BeginDelivery(ctx, delivery)
	if err != nil {
		slog.Error("failed to claim delivery", "notification", rep.Notification, "error", err)
		return
	}
	if !claimed {
		slog.Debug("delivery already handled for this period",
			"organization", rep.Organization, "project", rep.Project,
			"notification", rep.Notification, "period_start", rep.Period.Start)
		return
	}
	if err := d.log.FinishDelivery(ctx, delivery.ID, db.StateSending, 0, ""); err != nil {
		slog.Error("failed to record delivery state", "id", delivery.ID, "error", err)
		return
	}

	// Detach from the run context: cancellation must not abandon an already
	// claimed delivery mid-flight. The per-dispatch timeout still applies.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if d.metrics != nil {
		d.metrics.DispatchesInFlight.Inc()
		defer d.metrics.DispatchesInFlight.Dec()
	}

	start := time.Now()
	code, sendErr := d.newNotifier(cfg).Send(sendCtx, rep)
	elapsed := time.Since(start)

	state := db.StateDelivered
	errText := ""
	if sendErr != nil {
		state = db.StateFailed
		errText = sendErr.Error()
		slog.Warn("report delivery failed",
			"organization", rep.Organization, "project", rep.Project,
			"notification", rep.Notification, "channel", cfg.Type,
			"status_code", code, "error", sendErr)
	} else {
		slog.Info("report delivered",
			"organization", rep.Organization, "project", rep.Project,
			"notification", rep.Notification, "channel", cfg.Type,
			"status_code", code, "duration", elapsed)
	}

	if d.metrics != nil {
		d.metrics.ReportsDispatched.WithLabelValues(cfg.Type, state).Inc()
		d.metrics.DispatchDuration.WithLabelValues(cfg.Type).Observe(elapsed.Seconds())
	}

	if err := d.log.FinishDelivery(ctx, delivery.ID, state, code, errText); err != nil {
		slog.Error("failed to record delivery state", "id", delivery.ID, "error", err)
	}
}

// TestResult is the synchronous outcome of a manual notification test.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SendTest delivers a synthetic report through the notification's channel,
// bypassing subscription matching entirely. Only webhook notifications can be
// tested; the result is returned synchronously.
func (d *Dispatcher) SendTest(ctx context.Context, org, project string, cfg *model.NotificationConfig) TestResult {
	if cfg.Type != model.ChannelWebhook {
		return TestResult{Success: false, Error: "Only webhook notifications can be tested"}
	}

	rep := TestReport(org, project, cfg.Name)
	delivery := &db.Delivery{
		ID:           uuid.NewString(),
		Organization: org,
		Project:      project,
		Notification: cfg.Name,
		Channel:      cfg.Type,
		PeriodStart:  rep.Period.Start,
		PeriodEnd:    rep.Period.End,
		State:        db.StateTestPending,
	}
	claimed, err := d.log.BeginDelivery(ctx, delivery)
	if err != nil {
		return TestResult{Success: false, Error: err.Error()}
	}
	if !claimed {
		// Another attempt holds this key; finishing would overwrite its row.
		return TestResult{Success: false, Error: "a test for this notification is already in flight"}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	code, err := d.newNotifier(cfg).Send(sendCtx, rep)
	if err != nil {
		_ = d.log.FinishDelivery(ctx, delivery.ID, db.StateFailed, code, err.Error())
		return TestResult{Success: false, StatusCode: code, Error: err.Error()}
	}
	_ = d.log.FinishDelivery(ctx, delivery.ID, db.StateTestSent, code, "")
	return TestResult{Success: true, StatusCode: code}
}

// TestReport builds the fixed synthetic report used by manual verification.
func TestReport(org, project, notification string) *model.Report {
	score := 9.8
	now := time.Now().UTC()
	subs := model.NewSubscriptionSet([]string{"example_vendor"})
	return &model.Report{
		Organization:         org,
		Project:              project,
		Notification:         notification,
		Subscriptions:        subs,
		MatchedSubscriptions: subs,
		Title:                "Test notification from cvewatch",
		Period:               model.Period{Start: now, End: now},
		Changes: []model.ReportChange{{
			CVE: model.ReportCVE{
				CVEID:         "CVE-2024-0000",
				Description:   "This synthetic record verifies the notification channel configuration.",
				CVSS31:        &score,
				Subscriptions: subs,
			},
			Events: []model.ChangeEvent{{
				CVEID: "CVE-2024-0000",
				Seq:   1,
				Type:  model.EventCreated,
				Data:  model.CreatedData{},
			}},
		}},
	}
}
