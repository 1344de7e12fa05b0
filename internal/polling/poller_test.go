package polling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(0)
	if cfg.Interval != 5*time.Minute {
		t.Errorf("Expected default interval of 5 minutes, got %v", cfg.Interval)
	}

	cfg = NewConfig(10 * time.Minute)
	if cfg.Interval != 10*time.Minute {
		t.Errorf("Expected interval of 10 minutes, got %v", cfg.Interval)
	}

	cfg = NewConfig(-time.Second)
	if cfg.Interval != 5*time.Minute {
		t.Errorf("Expected fallback to default interval, got %v", cfg.Interval)
	}
}

func TestPollerStart(t *testing.T) {
	var runs atomic.Int32
	cfg := &Config{Interval: 50 * time.Millisecond}
	poller := NewPoller(cfg, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Millisecond)
	defer cancel()

	done := make(chan bool)
	go func() {
		poller.Start(ctx)
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Poller did not stop within expected time")
	}

	if got := runs.Load(); got < 2 {
		t.Errorf("Expected at least 2 runs, got %d", got)
	}
}
