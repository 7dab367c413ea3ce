package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/AssessPipe/internal/models"
)

const leadColumns = `id, profile, kind, name, domain, history, method, current_step, progress, eligibility_score, recommendations, total, created_at`

const notificationColumns = `id, lead_id, recipient, body, status, attempts, next_attempt_at, locked_at, last_error, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// leadArgs returns the insert arguments in leadColumns order.
func leadArgs(l models.Lead) ([]interface{}, error) {
	var recs interface{}
	if len(l.Recommendations) > 0 {
		b, err := json.Marshal(l.Recommendations)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recommendations: %w", err)
		}
		recs = string(b)
	}
	return []interface{}{
		l.ID, l.Profile, string(l.Kind), nilIfEmpty(l.Name), nilIfEmpty(l.Domain), nilIfEmpty(l.History),
		nilIfEmpty(l.Method), nilIfEmpty(l.CurrentStep), l.Progress, nullableInt(l.EligibilityScore), recs,
		nullableInt64(l.Total), l.CreatedAt,
	}, nil
}

// scanLead scans a row selected with leadColumns.
func scanLead(row rowScanner) (models.Lead, error) {
	var l models.Lead
	var kind string
	var name, domain, history, method, step, recs sql.NullString
	var score, total sql.NullInt64
	err := row.Scan(&l.ID, &l.Profile, &kind, &name, &domain, &history, &method, &step, &l.Progress, &score, &recs, &total, &l.CreatedAt)
	if err != nil {
		return l, fmt.Errorf("scan lead failed: %w", err)
	}
	l.Kind = models.LeadKind(kind)
	l.Name = name.String
	l.Domain = domain.String
	l.History = history.String
	l.Method = method.String
	l.CurrentStep = step.String
	if score.Valid {
		v := int(score.Int64)
		l.EligibilityScore = &v
	}
	if total.Valid {
		v := total.Int64
		l.Total = &v
	}
	if recs.Valid && recs.String != "" {
		if err := json.Unmarshal([]byte(recs.String), &l.Recommendations); err != nil {
			return l, fmt.Errorf("decode recommendations for lead %s: %w", l.ID, err)
		}
	}
	return l, nil
}

// scanNotification scans a row selected with notificationColumns.
func scanNotification(row rowScanner) (Notification, error) {
	var n Notification
	var status string
	var lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(&n.ID, &n.LeadID, &n.Recipient, &n.Body, &status, &n.Attempts, &nextAttemptAt, &lockedAt, &lastError, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return n, fmt.Errorf("scan notification failed: %w", err)
	}
	n.Status = NotificationStatus(status)
	n.LastError = lastError.String
	if nextAttemptAt.Valid {
		n.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		n.LockedAt = &lockedAt.Time
	}
	return n, nil
}

// collectLeads drains rows into a slice.
func collectLeads(rows *sql.Rows) ([]models.Lead, error) {
	defer rows.Close()
	leads := []models.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead iteration failed: %w", err)
	}
	return leads, nil
}

func collectNotifications(rows *sql.Rows) ([]Notification, error) {
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification iteration failed: %w", err)
	}
	return out, nil
}
