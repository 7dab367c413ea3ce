package assessment

import (
	"encoding/json"
	"testing"

	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allModes = []models.InteractionMode{"", models.InteractionModeButtons, models.InteractionModeConversation}

func TestFallback_AlwaysMatchesSchema(t *testing.T) {
	users := []models.UserInfo{{}, {Name: "Tim", Domain: "law", History: "10 years"}}
	for _, p := range []*Profile{Spark(), VisaPlace()} {
		for _, method := range []string{"1", "2", "3", "4", "9", "x"} {
			for _, mode := range allModes {
				for _, user := range users {
					resp := p.Fallback(method, user, mode)
					assert.NoError(t, ValidateResponse(resp), "%s/%s/%s", p.Name, method, mode)
				}
			}
		}
	}
}

func TestFallback_ConversationModeHasNoOptions(t *testing.T) {
	for _, p := range []*Profile{Spark(), VisaPlace()} {
		for _, method := range []string{"1", "2", "3", "4", "9"} {
			resp := p.Fallback(method, models.UserInfo{}, models.InteractionModeConversation)
			assert.NotNil(t, resp.Options)
			assert.Empty(t, resp.Options, "%s method %s", p.Name, method)
		}
	}
}

func TestFallback_Idempotent(t *testing.T) {
	user := models.UserInfo{Name: "Ann", History: "a decade of nursing"}
	for _, p := range []*Profile{Spark(), VisaPlace()} {
		for _, mode := range allModes {
			a, err := json.Marshal(p.Fallback("2", user, mode))
			require.NoError(t, err)
			b, err := json.Marshal(p.Fallback("2", user, mode))
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))
		}
	}
}

func TestFallback_StaticCopyIsIndependent(t *testing.T) {
	p := VisaPlace()
	resp := p.Fallback("1", models.UserInfo{}, models.InteractionModeButtons)
	resp.Options[0].ID = "mutated"
	assert.Equal(t, "country_canada", p.Fallback("1", models.UserInfo{}, models.InteractionModeButtons).Options[0].ID)
}

func TestFallback_Spark(t *testing.T) {
	p := Spark()

	resp := p.Fallback("1", models.UserInfo{Name: "Tim", Domain: "surgery", History: "20 years in the OR"}, models.InteractionModeButtons)
	assert.Equal(t, "Hi Tim! I'm Spark, and I'm excited to help capture your expertise in surgery using Method 1: Narrative Storytelling. "+
		"I'd love to hear about your experience from 20 years in the OR. Let's begin this journey together!", resp.Message)
	assert.Equal(t, "Method 1 - Getting Started", resp.CurrentStep)
	assert.Equal(t, 5, resp.Progress)
	assert.Equal(t, models.NextActionContinue, resp.NextAction)
	require.Len(t, resp.Options, 3)
	assert.Equal(t, "story1", resp.Options[0].ID)

	resp = p.Fallback("4", models.UserInfo{}, models.InteractionModeButtons)
	assert.Equal(t, "Hi there! I'm Spark, and I'm excited to help capture your expertise in your field using Method 4: Protocol Analysis. "+
		" Let's begin this journey together!", resp.Message)
	assert.Equal(t, []string{"thinking", "strategies", "refinements"}, optionIDs(resp.Options))

	resp = p.Fallback("2", models.UserInfo{}, "")
	assert.Equal(t, StepModeSelection, resp.CurrentStep, "no mode means the user still has to pick one")
}

func TestModeSelection(t *testing.T) {
	resp := Spark().ModeSelection("3", models.UserInfo{Domain: "farming"})
	assert.Equal(t, "Hi there! I'm Spark, and I'm excited to help capture your expertise in farming using Method 3: Observational Simulation. "+
		"\n\nBefore we begin, how would you prefer to interact with me?", resp.Message)
	assert.Equal(t, []string{"mode_buttons", "mode_conversation"}, optionIDs(resp.Options))
	assert.Equal(t, "buttons", resp.Options[0].Value)
	assert.Equal(t, "conversation", resp.Options[1].Value)
	assert.NoError(t, ValidateResponse(resp))
}

func TestLookupProfile(t *testing.T) {
	p, err := LookupProfile("")
	require.NoError(t, err)
	assert.Equal(t, ProfileSpark, p.Name)

	p, err = LookupProfile("visaplace")
	require.NoError(t, err)
	assert.False(t, p.OffersModeSelection)
	assert.Equal(t, []string{"1"}, p.MethodKeys())

	_, err = LookupProfile("acme")
	assert.Error(t, err)
}

func optionIDs(opts []models.Option) []string {
	ids := make([]string, len(opts))
	for i, o := range opts {
		ids[i] = o.ID
	}
	return ids
}
