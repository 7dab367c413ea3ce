package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/store"
)

// Dispatcher defaults.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultStaleThreshold = 5 * time.Minute
	DefaultMaxAttempts    = 5
	defaultClaimLimit     = 10
)

// Delivery results reported to an Observer.
const (
	ResultSent    = "sent"
	ResultRetry   = "retry"
	ResultFailed  = "failed"
	ResultErrored = "store_error"
)

// Observer receives one result per delivery attempt.
type Observer interface {
	NotificationResult(result string)
}

// DispatcherOpts holds configuration for the Dispatcher.
type DispatcherOpts struct {
	PollInterval time.Duration
	MaxAttempts  int
	Observer     Observer
}

// DispatcherOption defines a configuration option for the Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithPollInterval sets how often the outbox is polled.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) { o.PollInterval = d }
}

// WithMaxAttempts sets how many attempts a notification gets before it is abandoned.
func WithMaxAttempts(n int) DispatcherOption {
	return func(o *DispatcherOpts) { o.MaxAttempts = n }
}

// WithObserver registers a delivery result observer.
func WithObserver(obs Observer) DispatcherOption {
	return func(o *DispatcherOpts) { o.Observer = obs }
}

// Dispatcher periodically claims due notifications and sends them.
type Dispatcher struct {
	outbox         store.NotificationRepo
	sender         Sender
	pollInterval   time.Duration
	staleThreshold time.Duration
	maxAttempts    int
	claimLimit     int
	observer       Observer
	now            func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(outbox store.NotificationRepo, sender Sender, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{PollInterval: DefaultPollInterval, MaxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		outbox:         outbox,
		sender:         sender,
		pollInterval:   cfg.PollInterval,
		staleThreshold: DefaultStaleThreshold,
		maxAttempts:    cfg.MaxAttempts,
		claimLimit:     defaultClaimLimit,
		observer:       cfg.Observer,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// RecoverStale requeues notifications stuck in sending state after a crash.
// Call once at startup.
func (d *Dispatcher) RecoverStale(ctx context.Context) error {
	n, err := d.outbox.RequeueStaleNotifications(ctx, d.now().Add(-d.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Dispatcher.RecoverStale: requeued stale notifications", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher.Run: starting lead notification dispatcher", "pollInterval", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: stopping")
			return
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll claims and sends one batch of due notifications.
func (d *Dispatcher) Poll(ctx context.Context) {
	now := d.now()
	due, err := d.outbox.ClaimDueNotifications(ctx, now, d.claimLimit)
	if err != nil {
		slog.Error("Dispatcher.Poll: claim failed", "error", err)
		d.observe(ResultErrored)
		return
	}

	for _, n := range due {
		slog.Debug("Dispatcher.Poll: sending notification", "id", n.ID, "lead_id", n.LeadID, "attempts", n.Attempts)
		if err := d.sender.SendMessage(ctx, n.Recipient, n.Body); err != nil {
			d.fail(ctx, n, err, now)
			continue
		}
		if err := d.outbox.MarkNotificationSent(ctx, n.ID); err != nil {
			slog.Error("Dispatcher.Poll: mark sent error", "id", n.ID, "error", err)
			d.observe(ResultErrored)
			continue
		}
		d.observe(ResultSent)
	}
}

func (d *Dispatcher) fail(ctx context.Context, n store.Notification, sendErr error, now time.Time) {
	var next *time.Time
	result := ResultFailed
	if n.Attempts+1 < d.maxAttempts {
		// 10s, 20s, 40s, ...
		at := now.Add(time.Duration(10*(1<<n.Attempts)) * time.Second)
		next = &at
		result = ResultRetry
	}
	slog.Error("Dispatcher.Poll: send failed", "id", n.ID, "attempt", n.Attempts+1, "giving_up", next == nil, "error", sendErr)
	if err := d.outbox.FailNotification(ctx, n.ID, sendErr.Error(), next); err != nil {
		slog.Error("Dispatcher.Poll: fail notification error", "id", n.ID, "error", err)
		d.observe(ResultErrored)
		return
	}
	d.observe(result)
}

func (d *Dispatcher) observe(result string) {
	if d.observer != nil {
		d.observer.NotificationResult(result)
	}
}
