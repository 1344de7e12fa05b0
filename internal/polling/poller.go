package polling

import (
	"context"
	"log/slog"
	"time"
)

// Config holds the polling configuration
type Config struct {
	Interval time.Duration
}

// NewConfig normalizes the polling interval. Non-positive intervals fall back
// to the 5 minute default.
func NewConfig(interval time.Duration) *Config {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Config{Interval: interval}
}

// Poller invokes a run function on a fixed interval until its context is
// cancelled. A tick that overlaps a still-running invocation waits; runs
// never overlap.
type Poller struct {
	config *Config
	run    func(ctx context.Context) error
}

// NewPoller creates a new poller instance
func NewPoller(cfg *Config, run func(ctx context.Context) error) *Poller {
	return &Poller{config: cfg, run: run}
}

// Start begins the polling process and blocks until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	slog.Info("starting poller", "interval", p.config.Interval)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping poller")
			return
		case <-ticker.C:
			if err := p.run(ctx); err != nil {
				slog.Error("poll run failed", "error", err)
			}
		}
	}
}
