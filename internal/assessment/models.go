package assessment

import "github.com/BTreeMap/AssessPipe/internal/genai"

// modelAliases maps the model names the front-ends send to provider models.
var modelAliases = map[string]string{
	"gpt-4o-mini":  "gpt-4o-mini",
	"gpt-4.1-nano": "gpt-4o-mini",
}

// ResolveModel maps a requested alias to a provider model. Unknown or empty
// aliases resolve to the default model.
func ResolveModel(alias string) string {
	if m, ok := modelAliases[alias]; ok {
		return m
	}
	return string(genai.DefaultModel)
}
