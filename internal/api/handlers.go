package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/assessment"
	"github.com/BTreeMap/AssessPipe/internal/genai"
	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/BTreeMap/AssessPipe/internal/pricing"
)

// assessmentHandler serves one assessment turn (POST /api/assessment).
func (s *Server) assessmentHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	var req models.AssessmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.assessmentHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.assessmentHandler: validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile := s.svc.Profile().Name
	res, err := s.svc.Assess(r.Context(), req)
	if err != nil {
		if errors.Is(err, genai.ErrMissingAPIKey) {
			slog.Error("Server.assessmentHandler: OpenAI API key not configured")
			writeError(w, http.StatusInternalServerError, missingAPIKeyMessage)
			return
		}
		slog.Error("Server.assessmentHandler: assessment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process assessment")
		return
	}
	s.metrics.ObserveAssessment(profile, string(res.Outcome), res.Elapsed)

	attrs := []any{
		"profile", profile,
		"messages", len(req.Messages),
		"method", res.Method,
		"mode", req.InteractionMode,
		"model", res.Model,
		"outcome", res.Outcome,
		"progress", res.Response.Progress,
	}
	if res.Cause != nil {
		attrs = append(attrs, "cause", res.Cause)
	}
	slog.Info("Server.assessmentHandler: assessment served", attrs...)

	if res.Response.NextAction == models.NextActionComplete {
		s.recordLead(r.Context(), assessmentLead(profile, req, res))
	}

	w.Header().Set("Cache-Control", "no-cache")
	writeJSONResponse(w, http.StatusOK, res.Response)
}

// chatHandler streams a free-text reply (POST /api/chat).
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	var req models.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := models.ValidateMessages(req.Messages); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile := s.svc.Profile().Name
	flusher, _ := w.(http.Flusher)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
	}

	err := s.svc.Chat(r.Context(), req.Messages, func(delta string) error {
		start()
		if _, err := io.WriteString(w, delta); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	switch {
	case err == nil:
		start()
		s.metrics.ObserveChat(profile, "ok")
		slog.Debug("Server.chatHandler: chat stream completed", "messages", len(req.Messages))
	case started:
		// Headers are gone; the client sees a truncated stream.
		s.metrics.ObserveChat(profile, "interrupted")
		slog.Error("Server.chatHandler: chat stream interrupted", "error", err)
	case errors.Is(err, assessment.ErrNoChatPrompt):
		s.metrics.ObserveChat(profile, "unavailable")
		writeError(w, http.StatusNotFound, "Chat is not available for this profile")
	case errors.Is(err, genai.ErrMissingAPIKey):
		s.metrics.ObserveChat(profile, "unconfigured")
		slog.Error("Server.chatHandler: OpenAI API key not configured")
		writeError(w, http.StatusInternalServerError, missingAPIKeyMessage)
	default:
		s.metrics.ObserveChat(profile, "error")
		slog.Error("Server.chatHandler: chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process chat")
	}
}

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	Env       healthEnv `json:"env"`
}

type healthEnv struct {
	HasOpenAI bool   `json:"hasOpenAI"`
	Profile   string `json:"profile"`
	Version   string `json:"version"`
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Env: healthEnv{
			HasOpenAI: s.svc.HasClient(),
			Profile:   s.svc.Profile().Name,
			Version:   s.version,
		},
	})
}

// proposalRequest is a pricing selection plus optional contact details.
type proposalRequest struct {
	pricing.Selection
	Name string `json:"name,omitempty"`
}

// quote decodes a selection and prices it, writing any error response itself.
func (s *Server) quote(w http.ResponseWriter, r *http.Request, kind string) (proposalRequest, pricing.Quote, bool) {
	var req proposalRequest
	if s.catalog == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Pricing is not available for this profile"))
		return req, pricing.Quote{}, false
	}
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.quote: failed to decode JSON", "kind", kind, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return req, pricing.Quote{}, false
	}
	q, err := s.catalog.Quote(req.Selection)
	if err != nil {
		s.metrics.ObservePricing(kind, "invalid")
		slog.Warn("Server.quote: invalid selection", "kind", kind, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return req, pricing.Quote{}, false
	}
	return req, q, true
}

// quoteHandler prices a selection (POST /api/pricing/quote).
func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	_, q, ok := s.quote(w, r, "quote")
	if !ok {
		return
	}
	s.metrics.ObservePricing("quote", "ok")
	slog.Debug("Server.quoteHandler: quote computed", "items", len(q.Items), "total", q.Breakdown.Total)
	writeJSONResponse(w, http.StatusOK, models.Success(q))
}

// proposalHandler renders a downloadable proposal (POST /api/pricing/proposal).
func (s *Server) proposalHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	req, q, ok := s.quote(w, r, "proposal")
	if !ok {
		return
	}
	now := s.now()
	doc, err := pricing.RenderProposal(q, now)
	if err != nil {
		s.metrics.ObservePricing("proposal", "error")
		slog.Error("Server.proposalHandler: failed to render proposal", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to render proposal"))
		return
	}
	s.metrics.ObservePricing("proposal", "ok")

	total := q.Breakdown.Total
	s.recordLead(r.Context(), models.Lead{
		Profile: s.svc.Profile().Name,
		Kind:    models.LeadKindProposal,
		Name:    req.Name,
		Total:   &total,
	})

	filename := pricing.ProposalFilename(q.Brand, now)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		slog.Error("Server.proposalHandler: failed to write proposal", "error", err)
	}
}

// leadsHandler lists recorded leads (GET /api/leads?limit=N).
func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		limit = n
	}
	if s.leads == nil {
		writeJSONResponse(w, http.StatusOK, models.Success([]models.Lead{}))
		return
	}
	leads, err := s.leads.ListLeads(r.Context(), limit)
	if err != nil {
		slog.Error("Server.leadsHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch leads"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

// assessmentLead summarizes a completed assessment.
func assessmentLead(profile string, req models.AssessmentRequest, res assessment.Result) models.Lead {
	info := req.Info()
	return models.Lead{
		Profile:          profile,
		Kind:             models.LeadKindAssessment,
		Name:             info.Name,
		Domain:           info.Domain,
		History:          info.History,
		Method:           res.Method,
		CurrentStep:      res.Response.CurrentStep,
		Progress:         res.Response.Progress,
		EligibilityScore: res.Response.EligibilityScore,
		Recommendations:  res.Response.Recommendations,
	}
}
