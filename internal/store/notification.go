package store

import (
	"context"
	"time"
)

// NotificationStatus represents the lifecycle state of an outbox notification.
type NotificationStatus string

const (
	NotificationStatusQueued  NotificationStatus = "queued"
	NotificationStatusSending NotificationStatus = "sending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification is a durable outgoing lead alert.
type Notification struct {
	ID            string             `json:"id"`
	LeadID        string             `json:"lead_id"`
	Recipient     string             `json:"recipient"`
	Body          string             `json:"body"`
	Status        NotificationStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	NextAttemptAt *time.Time         `json:"next_attempt_at,omitempty"`
	LockedAt      *time.Time         `json:"locked_at,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NotificationRepo is the outbox through which lead alerts are delivered.
type NotificationRepo interface {
	// EnqueueNotification queues body for recipient. A second enqueue for the
	// same lead and recipient returns the existing ID while it is not terminal.
	EnqueueNotification(ctx context.Context, leadID, recipient, body string) (string, error)

	// ClaimDueNotifications marks up to limit queued notifications whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]Notification, error)

	// MarkNotificationSent marks a notification as delivered.
	MarkNotificationSent(ctx context.Context, id string) error

	// FailNotification records a failed attempt. A nil nextAttemptAt gives up
	// on the notification; otherwise it is requeued for that time.
	FailNotification(ctx context.Context, id, errMsg string, nextAttemptAt *time.Time) error

	// RequeueStaleNotifications resets notifications stuck in sending since
	// before staleBefore back to queued.
	RequeueStaleNotifications(ctx context.Context, staleBefore time.Time) (int, error)
}

func dedupeKey(leadID, recipient string) string {
	return leadID + "|" + recipient
}
