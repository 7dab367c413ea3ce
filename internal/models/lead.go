package models

import "time"

// LeadKind identifies what produced a lead.
type LeadKind string

const (
	// LeadKindAssessment is recorded when an assessment response signals completion.
	LeadKindAssessment LeadKind = "assessment"
	// LeadKindProposal is recorded when a pricing proposal is generated.
	LeadKindProposal LeadKind = "proposal"
)

// Lead is a summary of a prospect worth following up on.
// It is derived from a completed assessment or a generated proposal; the full
// conversation and the assessment payload are never stored.
type Lead struct {
	ID               string    `json:"id"`
	Profile          string    `json:"profile"`
	Kind             LeadKind  `json:"kind"`
	Name             string    `json:"name,omitempty"`
	Domain           string    `json:"domain,omitempty"`
	History          string    `json:"history,omitempty"`
	Method           string    `json:"method,omitempty"`
	CurrentStep      string    `json:"currentStep,omitempty"`
	Progress         int       `json:"progress"`
	EligibilityScore *int      `json:"eligibilityScore,omitempty"`
	Recommendations  []string  `json:"recommendations,omitempty"`
	Total            *int64    `json:"total,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}
