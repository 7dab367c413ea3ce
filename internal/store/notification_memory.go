package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var _ NotificationRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) EnqueueNotification(ctx context.Context, leadID, recipient, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupeKey(leadID, recipient)
	for _, n := range s.notifications {
		if dedupeKey(n.LeadID, n.Recipient) == key && n.Status != NotificationStatusSent && n.Status != NotificationStatusFailed {
			return n.ID, nil
		}
	}

	now := time.Now().UTC()
	n := &Notification{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		Recipient: recipient,
		Body:      body,
		Status:    NotificationStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.notifications[n.ID] = n
	return n.ID, nil
}

func (s *InMemoryStore) ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Notification
	for _, n := range s.notifications {
		if n.Status == NotificationStatusQueued && (n.NextAttemptAt == nil || !n.NextAttemptAt.After(now)) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]Notification, 0, len(due))
	for _, n := range due {
		lockedAt := now
		n.Status = NotificationStatusSending
		n.LockedAt = &lockedAt
		n.UpdatedAt = now
		out = append(out, *n)
	}
	return out, nil
}

func (s *InMemoryStore) MarkNotificationSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s not found", id)
	}
	n.Status = NotificationStatusSent
	n.LockedAt = nil
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) FailNotification(ctx context.Context, id, errMsg string, nextAttemptAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s not found", id)
	}
	n.Attempts++
	n.LastError = errMsg
	n.LockedAt = nil
	n.UpdatedAt = time.Now().UTC()
	if nextAttemptAt == nil {
		n.Status = NotificationStatusFailed
		n.NextAttemptAt = nil
		return nil
	}
	next := *nextAttemptAt
	n.Status = NotificationStatusQueued
	n.NextAttemptAt = &next
	return nil
}

func (s *InMemoryStore) RequeueStaleNotifications(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifications {
		if n.Status == NotificationStatusSending && n.LockedAt != nil && n.LockedAt.Before(staleBefore) {
			n.Status = NotificationStatusQueued
			n.LockedAt = nil
			n.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}
