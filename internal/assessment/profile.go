package assessment

import (
	"fmt"
	"sort"

	"github.com/BTreeMap/AssessPipe/internal/models"
)

// Built-in profile names.
const (
	ProfileSpark     = "spark"
	ProfileVisaPlace = "visaplace"
)

// DefaultMethod is used when a request names no method or an unknown one.
const DefaultMethod = "1"

// Method is one elicitation methodology a profile offers.
type Method struct {
	Title    string
	Template string
	Options  []models.Option
}

// Profile is the per-application configuration layered over the shared
// prompt table and handler logic.
type Profile struct {
	Name                string
	AssistantName       string
	// OffersModeSelection enables the "how would you like to interact" first turn.
	OffersModeSelection bool
	Methods             map[string]Method
	// UnknownTitle names the methodology in greetings when the method key is not recognized.
	UnknownTitle string
	// DefaultOptions are offered by the fallback for unrecognized method keys.
	DefaultOptions []models.Option
	ChatTemplate   string
	// StaticFallback, when set, replaces the method-based fallback entirely.
	StaticFallback *models.AssessmentResponse
}

// ResolveMethod returns the method for key, falling back to DefaultMethod.
// The returned key is the one actually resolved.
func (p *Profile) ResolveMethod(key string) (string, Method) {
	if m, ok := p.Methods[key]; ok {
		return key, m
	}
	return DefaultMethod, p.Methods[DefaultMethod]
}

// Title returns the method's display title, or UnknownTitle for unrecognized keys.
func (p *Profile) Title(key string) string {
	if m, ok := p.Methods[key]; ok {
		return m.Title
	}
	return p.UnknownTitle
}

// MethodKeys lists the profile's method keys in order.
func (p *Profile) MethodKeys() []string {
	keys := make([]string, 0, len(p.Methods))
	for k := range p.Methods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Spark is the expertise-capture profile with four elicitation methods.
func Spark() *Profile {
	return &Profile{
		Name:                ProfileSpark,
		AssistantName:       "Spark",
		OffersModeSelection: true,
		UnknownTitle:        "Expertise Capture",
		Methods: map[string]Method{
			"1": {
				Title:    "Narrative Storytelling",
				Template: "spark/method1.tmpl",
				Options: []models.Option{
					{ID: "story1", Text: "Share a challenging project story", Value: "I'd like to share a story about a challenging project I worked on...", Description: "Tell me about a complex project you tackled"},
					{ID: "story2", Text: "Describe a successful outcome", Value: "Let me tell you about a time when things went really well...", Description: "Share a story about a major success"},
					{ID: "story3", Text: "Talk about a difficult decision", Value: "I remember having to make a tough decision when...", Description: "Describe a challenging choice you had to make"},
				},
			},
			"2": {
				Title:    "Targeted Questioning",
				Template: "spark/method2.tmpl",
				Options: []models.Option{
					{ID: "process", Text: "Process questions", Value: "I'd like to answer questions about my processes", Description: "How do you approach your work?"},
					{ID: "decisions", Text: "Decision-making questions", Value: "I'd like to answer questions about decision-making", Description: "How do you make important choices?"},
					{ID: "tools", Text: "Tools and methods questions", Value: "I'd like to answer questions about tools and methods", Description: "What tools and techniques do you use?"},
				},
			},
			"3": {
				Title:    "Observational Simulation",
				Template: "spark/method3.tmpl",
				Options: []models.Option{
					{ID: "workflow", Text: "Show daily workflow", Value: "I'll walk you through my typical daily workflow", Description: "Demonstrate your regular work process"},
					{ID: "problem_solving", Text: "Demonstrate problem-solving", Value: "Let me show you how I approach problem-solving", Description: "Walk through your problem-solving process"},
					{ID: "decision_process", Text: "Show decision-making steps", Value: "I'll demonstrate how I make decisions", Description: "Step through your decision-making process"},
				},
			},
			"4": {
				Title:    "Protocol Analysis",
				Template: "spark/method4.tmpl",
				Options: []models.Option{
					{ID: "thinking", Text: "Verbalize my thinking process", Value: "I'll think aloud about how I approach problems", Description: "Share your internal thought process"},
					{ID: "strategies", Text: "Discuss my strategies", Value: "Let me explain the strategies I use", Description: "Talk about your key approaches and methods"},
					{ID: "refinements", Text: "Share lessons learned", Value: "I'll discuss what I've learned and would change", Description: "Reflect on improvements and refinements"},
				},
			},
		},
		DefaultOptions: []models.Option{
			{ID: "start", Text: "I'm ready to begin", Value: "start", Description: "Start the Expertise Capture process"},
		},
	}
}

// VisaPlace is the immigration assessment profile. It has a single prompt, no
// mode-selection turn, and a static country-selection fallback.
func VisaPlace() *Profile {
	return &Profile{
		Name:          ProfileVisaPlace,
		AssistantName: "VisaPlace",
		UnknownTitle:  "Immigration Assessment",
		Methods: map[string]Method{
			"1": {Title: "Immigration Assessment", Template: "visaplace/assessment.tmpl"},
		},
		ChatTemplate: "visaplace/chat.tmpl",
		StaticFallback: &models.AssessmentResponse{
			Message:     "Welcome to your immigration assessment! I'm here to help guide you through your Canadian or US immigration journey. Let's start by understanding your goals.",
			CurrentStep: "Country Selection",
			Progress:    5,
			Options: []models.Option{
				{ID: "country_canada", Text: "I want to immigrate to Canada", Value: "canada", Description: "Explore Canadian immigration pathways including Express Entry, PNP, and more"},
				{ID: "country_usa", Text: "I want to immigrate to the United States", Value: "usa", Description: "Learn about US Green Cards, work visas, and family immigration"},
				{ID: "country_unsure", Text: "I'm not sure which country is better for me", Value: "unsure", Description: "Get guidance on choosing between Canada and US immigration"},
			},
			NextAction: models.NextActionContinue,
		},
	}
}

// LookupProfile returns a built-in profile by name.
func LookupProfile(name string) (*Profile, error) {
	switch name {
	case "", ProfileSpark:
		return Spark(), nil
	case ProfileVisaPlace:
		return VisaPlace(), nil
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
}
