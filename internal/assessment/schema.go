package assessment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

// SchemaName identifies the response schema in structured-output requests.
const SchemaName = "assessment_response"

const schemaDescription = "A single assessment turn: message, step, progress, quick-reply options and next action"

// ErrSchemaViolation is returned when a document does not match the response schema.
var ErrSchemaViolation = errors.New("assessment response does not match schema")

var responseProperties = []string{
	"message", "currentStep", "progress", "options", "nextAction", "recommendations", "eligibilityScore",
}

var requiredProperties = []string{"message", "currentStep", "progress", "options", "nextAction"}

// ResponseSchema returns the JSON Schema of AssessmentResponse used for validation.
// Optional fields may be absent or null.
func ResponseSchema() map[string]interface{} {
	return buildSchema(false)
}

// StrictResponseSchema returns the variant sent to the provider. Strict structured
// output requires every property to be listed as required, so optional fields are
// expressed as nullable instead.
func StrictResponseSchema() map[string]interface{} {
	return buildSchema(true)
}

func buildSchema(strict bool) map[string]interface{} {
	optionRequired := []interface{}{"id", "text", "value"}
	required := toInterfaces(requiredProperties)
	if strict {
		optionRequired = []interface{}{"id", "text", "value", "description"}
		required = toInterfaces(responseProperties)
	}

	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             required,
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The main response message to the user",
			},
			"currentStep": map[string]interface{}{
				"type":        "string",
				"description": "Current step in the assessment process",
			},
			"progress": map[string]interface{}{
				"type":        "integer",
				"minimum":     0,
				"maximum":     100,
				"description": "Progress percentage (0-100)",
			},
			"options": map[string]interface{}{
				"type":        "array",
				"description": "Interactive options/buttons for the user",
				"items": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": false,
					"required":             optionRequired,
					"properties": map[string]interface{}{
						"id":          map[string]interface{}{"type": "string", "description": "Unique identifier for the option"},
						"text":        map[string]interface{}{"type": "string", "description": "Button text to display"},
						"value":       map[string]interface{}{"type": "string", "description": "Value to send when clicked"},
						"description": map[string]interface{}{"type": []interface{}{"string", "null"}, "description": "Optional description for the option"},
					},
				},
			},
			"nextAction": map[string]interface{}{
				"type":        "string",
				"enum":        []interface{}{string(models.NextActionContinue), string(models.NextActionComplete), string(models.NextActionRedirect)},
				"description": "What should happen next",
			},
			"recommendations": map[string]interface{}{
				"type":        []interface{}{"array", "null"},
				"items":       map[string]interface{}{"type": "string"},
				"description": "Specific recommendations based on user responses",
			},
			"eligibilityScore": map[string]interface{}{
				"type":        []interface{}{"integer", "null"},
				"minimum":     0,
				"maximum":     100,
				"description": "Eligibility score if applicable",
			},
		},
	}
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(ResponseSchema()))
})

// ValidateResponseJSON checks raw JSON against the response schema.
func ValidateResponseJSON(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile response schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(errs, "; "))
	}
	return nil
}

// ValidateResponse checks an already-built response against the schema.
func ValidateResponse(resp models.AssessmentResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return ValidateResponseJSON(raw)
}

// DecodeResponse validates raw model output and decodes it.
func DecodeResponse(raw string) (models.AssessmentResponse, error) {
	var resp models.AssessmentResponse
	if err := ValidateResponseJSON([]byte(raw)); err != nil {
		return resp, err
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return resp, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if resp.Options == nil {
		resp.Options = []models.Option{}
	}
	return resp, nil
}
