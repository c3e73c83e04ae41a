package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/grants/pkg/observability"
)

// Relay periodically redelivers outbox rows the post-commit dispatch missed
type Relay struct {
	dispatcher *Dispatcher
	outbox     Outbox
	schedule   string
	batchSize  int
	timeout    time.Duration
	cron       *cron.Cron
	metrics    *observability.Metrics
	logger     *observability.Logger
	running    sync.Mutex
}

// RelayConfig configures a Relay
type RelayConfig struct {
	// Schedule is a cron spec such as "@every 1m"
	Schedule  string
	BatchSize int
	// Timeout bounds one relay pass
	Timeout time.Duration
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// NewRelay creates a relay draining outbox through dispatcher
func NewRelay(dispatcher *Dispatcher, outbox Outbox, cfg RelayConfig) *Relay {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Relay{
		dispatcher: dispatcher,
		outbox:     outbox,
		schedule:   cfg.Schedule,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.WithField("component", "notify_relay"),
	}
}

// Start schedules relay passes. Passes never overlap.
func (r *Relay) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.tick); err != nil {
		return fmt.Errorf("invalid relay schedule %q: %w", r.schedule, err)
	}
	r.cron = c
	c.Start()
	r.logger.Infof("Notification relay scheduled: %s", r.schedule)
	return nil
}

// Stop halts scheduling and waits for a running pass, or for ctx
func (r *Relay) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) tick() {
	defer observability.RecoverPanic(r.logger, "notification relay")

	if !r.running.TryLock() {
		r.logger.Debug("Previous relay pass still running; skipping")
		return
	}
	defer r.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	delivered, failed, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Notification relay pass failed")
		return
	}
	if delivered > 0 || failed > 0 {
		r.logger.WithFields(map[string]interface{}{
			"delivered": delivered,
			"failed":    failed,
		}).Info("Notification relay pass complete")
	}
}

// RunOnce delivers one batch of due rows and returns how many were delivered
// and how many failed again
func (r *Relay) RunOnce(ctx context.Context) (int, int, error) {
	maxAttempts := r.dispatcher.retry.MaxAttempts()

	due, err := r.outbox.PendingNotifications(ctx, r.dispatcher.now(), maxAttempts, r.batchSize)
	if err != nil {
		return 0, 0, err
	}

	delivered, failed := 0, 0
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := r.dispatcher.Deliver(ctx, n); err != nil {
			failed++
			continue
		}
		delivered++
	}

	if pending, err := r.outbox.CountPendingNotifications(ctx, maxAttempts); err == nil {
		r.metrics.SetOutboxPending(pending)
	}
	return delivered, failed, nil
}
