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

func (s *PostgresStore) EnqueueNotification(ctx context.Context, leadID, recipient, body string) (string, error) {
	key := dedupeKey(leadID, recipient)

	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM lead_notifications WHERE dedupe_key = $1 AND status NOT IN ('sent', 'failed')`,
		key,
	).Scan(&existingID)
	if err == nil {
		slog.Debug("PostgresStore.EnqueueNotification: dedupe hit", "lead_id", leadID, "existing_id", existingID)
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("notification dedupe check failed: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_notifications (id, lead_id, recipient, body, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7)`,
		id, leadID, recipient, body, key, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue notification failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueNotification", "id", id, "lead_id", leadID)
	return id, nil
}

func (s *PostgresStore) ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE lead_notifications SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM lead_notifications WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		   ORDER BY created_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+notificationColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications failed: %w", err)
	}
	return collectNotifications(rows)
}

func (s *PostgresStore) MarkNotificationSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE lead_notifications SET status = 'sent', locked_at = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification sent failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailNotification(ctx context.Context, id, errMsg string, nextAttemptAt *time.Time) error {
	status := NotificationStatusQueued
	var next interface{}
	if nextAttemptAt == nil {
		status = NotificationStatusFailed
	} else {
		next = *nextAttemptAt
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE lead_notifications SET status = $1, attempts = attempts + 1, last_error = $2, next_attempt_at = $3, locked_at = NULL, updated_at = $4 WHERE id = $5`,
		string(status), errMsg, next, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("fail notification failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleNotifications(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE lead_notifications SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'sending' AND locked_at < $2`,
		time.Now().UTC(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale notifications failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleNotifications", "requeued", n)
	}
	return int(n), nil
}
