package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

func (s *SQLiteStore) EnqueueNotification(ctx context.Context, leadID, recipient, body string) (string, error) {
	key := dedupeKey(leadID, recipient)

	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM lead_notifications WHERE dedupe_key = ? AND status NOT IN ('sent', 'failed')`,
		key,
	).Scan(&existingID)
	if err == nil {
		slog.Debug("SQLiteStore.EnqueueNotification: dedupe hit", "lead_id", leadID, "existing_id", existingID)
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("notification dedupe check failed: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_notifications (id, lead_id, recipient, body, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, leadID, recipient, body, key, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue notification failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueNotification", "id", id, "lead_id", leadID)
	return id, nil
}

// ClaimDueNotifications selects then updates in one transaction; SQLite has no
// SKIP LOCKED, and the single connection serializes claimers.
func (s *SQLiteStore) ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim notifications begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM lead_notifications
		 WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications failed: %w", err)
	}
	due, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}

	for i := range due {
		if _, err := tx.ExecContext(ctx,
			`UPDATE lead_notifications SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, due[i].ID,
		); err != nil {
			return nil, fmt.Errorf("mark notification sending failed: %w", err)
		}
		lockedAt := now
		due[i].Status = NotificationStatusSending
		due[i].LockedAt = &lockedAt
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim notifications commit failed: %w", err)
	}
	return due, nil
}

func (s *SQLiteStore) MarkNotificationSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE lead_notifications SET status = 'sent', locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification sent failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailNotification(ctx context.Context, id, errMsg string, nextAttemptAt *time.Time) error {
	status := NotificationStatusQueued
	var next interface{}
	if nextAttemptAt == nil {
		status = NotificationStatusFailed
	} else {
		next = *nextAttemptAt
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE lead_notifications SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		string(status), errMsg, next, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("fail notification failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleNotifications(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE lead_notifications SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		time.Now().UTC(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale notifications failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleNotifications", "requeued", n)
	}
	return int(n), nil
}
