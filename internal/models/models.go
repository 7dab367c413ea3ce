// Package models defines the core data structures for AssessPipe.
//
// It includes the assessment request/response payloads exchanged with the web front-ends,
// the lead summaries recorded when an assessment completes, and the JSON envelope used by
// the auxiliary API endpoints.
package models

import (
	"errors"
	"fmt"
)

// InteractionMode controls whether canned quick-reply options accompany assessment responses.
type InteractionMode string

const (
	// InteractionModeButtons asks the model for 2-4 quick-reply options per turn.
	InteractionModeButtons InteractionMode = "buttons"
	// InteractionModeConversation asks the model for free-form turns with no options.
	InteractionModeConversation InteractionMode = "conversation"
)

// NextAction tells the front-end what to do after rendering a response.
type NextAction string

const (
	NextActionContinue NextAction = "continue"
	NextActionComplete NextAction = "complete"
	NextActionRedirect NextAction = "redirect"
)

// ChatRole identifies the author of a conversation turn.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleSystem    ChatRole = "system"
)

// Validation constants for input validation
const (
	// MaxMessages defines the maximum number of conversation turns accepted in one request
	MaxMessages = 200
	// MaxMessageLength defines the maximum allowed length of a single turn's content
	MaxMessageLength = 16384
)

// Error variables for better error handling and testability
var (
	ErrInvalidInteractionMode = errors.New("invalid interaction mode")
	ErrInvalidRole            = errors.New("invalid message role")
	ErrTooManyMessages        = errors.New("too many messages")
	ErrMessageTooLong         = errors.New("message content exceeds maximum length")
)

// IsValid reports whether m is empty or one of the known interaction modes.
func (m InteractionMode) IsValid() bool {
	switch m {
	case "", InteractionModeButtons, InteractionModeConversation:
		return true
	default:
		return false
	}
}

// OrDefault returns the mode, or buttons when the mode is unset.
func (m InteractionMode) OrDefault() InteractionMode {
	if m == "" {
		return InteractionModeButtons
	}
	return m
}

// ChatMessage is one turn of the conversation resent by the caller on every request.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// UserInfo carries the free-text facts interpolated into prompts and greetings.
type UserInfo struct {
	Name    string `json:"name,omitempty"`
	Domain  string `json:"domain,omitempty"`
	History string `json:"history,omitempty"`
}

// Option is a quick-reply button offered to the user.
type Option struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// AssessmentRequest is the body accepted by the assessment endpoint.
type AssessmentRequest struct {
	Messages        []ChatMessage          `json:"messages"`
	UserProfile     map[string]interface{} `json:"userProfile,omitempty"`
	Model           string                 `json:"model,omitempty"`
	Method          string                 `json:"method,omitempty"`
	UserInfo        *UserInfo              `json:"userInfo,omitempty"`
	InteractionMode InteractionMode        `json:"interactionMode,omitempty"`
}

// Validate performs structural validation on an AssessmentRequest.
// Content is never inspected beyond its length.
func (r *AssessmentRequest) Validate() error {
	if !r.InteractionMode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidInteractionMode, r.InteractionMode)
	}
	return ValidateMessages(r.Messages)
}

// Info returns the request's user info, or an empty record when none was sent.
func (r *AssessmentRequest) Info() UserInfo {
	if r.UserInfo == nil {
		return UserInfo{}
	}
	return *r.UserInfo
}

// ValidateMessages checks roles and sizes of a conversation history.
func ValidateMessages(messages []ChatMessage) error {
	if len(messages) > MaxMessages {
		return ErrTooManyMessages
	}
	for i, m := range messages {
		switch m.Role {
		case ChatRoleUser, ChatRoleAssistant, ChatRoleSystem:
		default:
			return fmt.Errorf("%w at index %d: %q", ErrInvalidRole, i, m.Role)
		}
		if len(m.Content) > MaxMessageLength {
			return fmt.Errorf("%w at index %d", ErrMessageTooLong, i)
		}
	}
	return nil
}

// AssessmentResponse is the structured payload returned for every assessment turn.
type AssessmentResponse struct {
	Message          string     `json:"message"`
	CurrentStep      string     `json:"currentStep"`
	Progress         int        `json:"progress"`
	Options          []Option   `json:"options"`
	NextAction       NextAction `json:"nextAction"`
	Recommendations  []string   `json:"recommendations,omitempty"`
	EligibilityScore *int       `json:"eligibilityScore,omitempty"`
}

// ChatRequest is the body accepted by the streaming chat endpoint.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ErrorBody is the bare error payload returned by the assessment and chat endpoints.
type ErrorBody struct {
	Error string `json:"error"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
