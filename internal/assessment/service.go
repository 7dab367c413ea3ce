// Package assessment turns an assessment request into exactly one structured
// response: a fixed mode-selection payload, a model-generated turn, or a
// deterministic fallback when generation fails.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/genai"
	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/BTreeMap/AssessPipe/internal/prompt"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 30 * time.Second

// ErrNoChatPrompt is returned by Chat when the profile has no chat prompt.
var ErrNoChatPrompt = errors.New("profile has no chat prompt")

// Outcome records which path produced a response.
type Outcome string

const (
	OutcomeModeSelection Outcome = "mode_selection"
	OutcomeGenerated     Outcome = "generated"
	OutcomeFallback      Outcome = "fallback"
)

// Result is the response to relay plus how it was produced.
type Result struct {
	Response models.AssessmentResponse
	Outcome  Outcome
	// Cause is set when Outcome is OutcomeFallback. It is for logging only.
	Cause error
	// Method is the method key as requested, defaulted to "1" when empty.
	Method  string
	Model   string
	Elapsed time.Duration
}

// Opts holds configuration for the assessment service.
type Opts struct {
	Timeout time.Duration
}

// Option defines a configuration option for the assessment service.
type Option func(*Opts)

// WithTimeout overrides the per-call generation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// Service handles assessment and chat requests for one profile.
type Service struct {
	profile *Profile
	prompts *prompt.Table
	client  genai.ClientInterface
	timeout time.Duration
}

// NewService creates a service. A nil client means no provider credential is
// configured; mode selection still works but every model-backed path reports
// genai.ErrMissingAPIKey.
func NewService(profile *Profile, prompts *prompt.Table, client genai.ClientInterface, opts ...Option) *Service {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		profile: profile,
		prompts: prompts,
		client:  client,
		timeout: cfg.Timeout,
	}
}

// Profile returns the profile this service serves.
func (s *Service) Profile() *Profile {
	return s.profile
}

// HasClient reports whether a provider credential is configured.
func (s *Service) HasClient() bool {
	return s.client != nil
}

// Assess produces the response for one assessment turn. The only error it
// returns is genai.ErrMissingAPIKey; every generation failure is absorbed into
// a fallback result.
func (s *Service) Assess(ctx context.Context, req models.AssessmentRequest) (Result, error) {
	method := req.Method
	if method == "" {
		method = DefaultMethod
	}
	user := req.Info()
	res := Result{Method: method}

	if s.profile.OffersModeSelection && len(req.Messages) <= 1 && req.InteractionMode == "" {
		slog.Debug("Service.Assess: returning mode selection", "method", method, "messages", len(req.Messages))
		res.Response = s.profile.ModeSelection(method, user)
		res.Outcome = OutcomeModeSelection
		return res, nil
	}

	if s.client == nil {
		return res, genai.ErrMissingAPIKey
	}

	mode := req.InteractionMode.OrDefault()
	res.Model = ResolveModel(req.Model)

	start := time.Now()
	resp, err := s.generate(ctx, method, user, mode, req, res.Model)
	res.Elapsed = time.Since(start)
	if err != nil {
		slog.Warn("Service.Assess: generation failed, serving fallback", "method", method, "mode", mode, "model", res.Model, "error", err)
		res.Response = s.profile.Fallback(method, user, req.InteractionMode)
		res.Outcome = OutcomeFallback
		res.Cause = err
		return res, nil
	}

	slog.Debug("Service.Assess: response generated", "method", method, "mode", mode, "model", res.Model,
		"step", resp.CurrentStep, "progress", resp.Progress, "next_action", resp.NextAction, "elapsed", res.Elapsed)
	res.Response = resp
	res.Outcome = OutcomeGenerated
	return res, nil
}

func (s *Service) generate(ctx context.Context, method string, user models.UserInfo, mode models.InteractionMode, req models.AssessmentRequest, model string) (models.AssessmentResponse, error) {
	_, m := s.profile.ResolveMethod(method)
	data := prompt.NewData(user, mode).WithUserProfile(req.UserProfile).WithModel(model)
	system, err := s.prompts.Render(m.Template, data)
	if err != nil {
		return models.AssessmentResponse{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.GenerateStructured(ctx, genai.StructuredRequest{
		Model:             model,
		System:            system,
		Messages:          req.Messages,
		SchemaName:        SchemaName,
		SchemaDescription: schemaDescription,
		Schema:            StrictResponseSchema(),
	})
	if err != nil {
		return models.AssessmentResponse{}, err
	}
	return DecodeResponse(raw)
}

// Chat streams a free-text reply using the profile's chat prompt.
func (s *Service) Chat(ctx context.Context, messages []models.ChatMessage, onDelta func(string) error) error {
	if s.profile.ChatTemplate == "" {
		return ErrNoChatPrompt
	}
	if s.client == nil {
		return genai.ErrMissingAPIKey
	}
	system, err := s.prompts.Render(s.profile.ChatTemplate, prompt.NewData(models.UserInfo{}, ""))
	if err != nil {
		return fmt.Errorf("failed to render chat prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	slog.Debug("Service.Chat: streaming reply", "messages", len(messages))
	return s.client.StreamChat(ctx, genai.ChatRequest{
		Model:    ResolveModel(""),
		System:   system,
		Messages: messages,
	}, onDelta)
}
