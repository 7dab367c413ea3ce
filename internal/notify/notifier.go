package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/BTreeMap/AssessPipe/internal/store"
	"github.com/dustin/go-humanize"
)

// maxRecommendations bounds how many recommendations go into one alert.
const maxRecommendations = 3

// LeadNotifier queues an alert for each configured recipient when a lead is recorded.
type LeadNotifier struct {
	outbox     store.NotificationRepo
	recipients []string
}

// NewLeadNotifier creates a notifier. Blank recipients are dropped.
func NewLeadNotifier(outbox store.NotificationRepo, recipients []string) *LeadNotifier {
	var rs []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			rs = append(rs, r)
		}
	}
	return &LeadNotifier{outbox: outbox, recipients: rs}
}

// Notify enqueues the alert for lead. Delivery happens in the Dispatcher.
func (n *LeadNotifier) Notify(ctx context.Context, lead models.Lead) error {
	body := FormatLead(lead)
	for _, to := range n.recipients {
		id, err := n.outbox.EnqueueNotification(ctx, lead.ID, to, body)
		if err != nil {
			return fmt.Errorf("failed to queue notification for lead %s: %w", lead.ID, err)
		}
		slog.Debug("LeadNotifier.Notify: notification queued", "lead_id", lead.ID, "notification_id", id)
	}
	return nil
}

// FormatLead renders the plain-text alert body for a lead.
func FormatLead(lead models.Lead) string {
	var sb strings.Builder
	switch lead.Kind {
	case models.LeadKindProposal:
		fmt.Fprintf(&sb, "New %s proposal download", lead.Profile)
	default:
		fmt.Fprintf(&sb, "New %s assessment completed", lead.Profile)
	}
	if lead.Name != "" {
		fmt.Fprintf(&sb, " by %s", lead.Name)
	}
	sb.WriteString(".")

	if lead.Domain != "" {
		fmt.Fprintf(&sb, "\nField: %s", lead.Domain)
	}
	if lead.Method != "" {
		fmt.Fprintf(&sb, "\nMethod: %s", lead.Method)
	}
	if lead.CurrentStep != "" {
		fmt.Fprintf(&sb, "\nStep: %s (%d%%)", lead.CurrentStep, lead.Progress)
	}
	if lead.EligibilityScore != nil {
		fmt.Fprintf(&sb, "\nEligibility score: %d/100", *lead.EligibilityScore)
	}
	if lead.Total != nil {
		fmt.Fprintf(&sb, "\nQuote total: $%s", humanize.Comma(*lead.Total))
	}
	recs := lead.Recommendations
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	for _, r := range recs {
		fmt.Fprintf(&sb, "\n- %s", r)
	}
	fmt.Fprintf(&sb, "\nRef: %s", lead.ID)
	return sb.String()
}
