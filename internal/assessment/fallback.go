package assessment

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/AssessPipe/internal/models"
)

// Step labels produced without a model call.
const (
	StepModeSelection = "Interaction Mode Selection"
	fallbackProgress  = 5
)

func modeOptions() []models.Option {
	return []models.Option{
		{ID: "mode_buttons", Text: "📱 Guided with buttons", Value: string(models.InteractionModeButtons), Description: "I'll provide helpful buttons to guide our conversation step-by-step"},
		{ID: "mode_conversation", Text: "💬 Open conversation", Value: string(models.InteractionModeConversation), Description: "Let's have a natural, free-flowing conversation without buttons"},
	}
}

// greeting builds the shared opening of mode-selection and fallback payloads.
// It always ends with a space after the title, even without a history sentence.
func (p *Profile) greeting(method string, user models.UserInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hi %s! I'm %s, and I'm excited to help capture your expertise in %s using Method %s: %s. ",
		orDefault(user.Name, "there"), p.AssistantName, orDefault(user.Domain, "your field"), method, p.Title(method))
	if user.History != "" {
		fmt.Fprintf(&sb, "I'd love to hear about your experience from %s.", user.History)
	}
	return sb.String()
}

// ModeSelection returns the first-turn payload asking how the user wants to interact.
func (p *Profile) ModeSelection(method string, user models.UserInfo) models.AssessmentResponse {
	return models.AssessmentResponse{
		Message:     p.greeting(method, user) + "\n\nBefore we begin, how would you prefer to interact with me?",
		CurrentStep: StepModeSelection,
		Progress:    0,
		Options:     modeOptions(),
		NextAction:  models.NextActionContinue,
	}
}

// Fallback returns the deterministic payload served when generation fails.
// It never errors and depends only on its arguments.
func (p *Profile) Fallback(method string, user models.UserInfo, mode models.InteractionMode) models.AssessmentResponse {
	if p.StaticFallback != nil {
		resp := *p.StaticFallback
		resp.Options = append([]models.Option{}, p.StaticFallback.Options...)
		if mode == models.InteractionModeConversation {
			resp.Options = []models.Option{}
		}
		return resp
	}
	if mode == "" {
		return p.ModeSelection(method, user)
	}

	options := []models.Option{}
	if mode != models.InteractionModeConversation {
		if m, ok := p.Methods[method]; ok {
			options = append(options, m.Options...)
		} else {
			options = append(options, p.DefaultOptions...)
		}
	}

	return models.AssessmentResponse{
		Message:     p.greeting(method, user) + " Let's begin this journey together!",
		CurrentStep: fmt.Sprintf("Method %s - Getting Started", method),
		Progress:    fallbackProgress,
		Options:     options,
		NextAction:  models.NextActionContinue,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
