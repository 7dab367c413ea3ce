package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/assessment"
	"github.com/BTreeMap/AssessPipe/internal/genai"
	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/BTreeMap/AssessPipe/internal/notify"
	"github.com/BTreeMap/AssessPipe/internal/pricing"
	"github.com/BTreeMap/AssessPipe/internal/prompt"
	"github.com/BTreeMap/AssessPipe/internal/store"
)

// mockGenAI implements genai.ClientInterface.
type mockGenAI struct {
	raw    string
	err    error
	deltas []string
	calls  int
}

func (m *mockGenAI) GenerateStructured(ctx context.Context, req genai.StructuredRequest) (string, error) {
	m.calls++
	return m.raw, m.err
}

func (m *mockGenAI) StreamChat(ctx context.Context, req genai.ChatRequest, onDelta func(string) error) error {
	m.calls++
	for _, d := range m.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return m.err
}

const completeJSON = `{"message":"Thanks, here is your summary.","currentStep":"Results","progress":100,` +
	`"options":[],"nextAction":"complete","recommendations":["Express Entry"],"eligibilityScore":82}`

func newTestServer(t *testing.T, profile *assessment.Profile, client genai.ClientInterface, opts ...Option) *Server {
	t.Helper()
	table, err := prompt.New()
	if err != nil {
		t.Fatalf("failed to load prompts: %v", err)
	}
	svc := assessment.NewService(profile, table, client)
	s := NewServer(svc, opts...)
	s.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeAssessment(t *testing.T, rr *httptest.ResponseRecorder) models.AssessmentResponse {
	t.Helper()
	var resp models.AssessmentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestAssessmentHandler_ModeSelectionWithoutKey(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), nil)

	rr := do(t, s, http.MethodPost, "/api/assessment", `{"messages":[],"method":"2","userInfo":{"name":"Tim"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("expected Cache-Control no-cache, got %q", got)
	}
	resp := decodeAssessment(t, rr)
	if resp.CurrentStep != "Interaction Mode Selection" || resp.Progress != 0 {
		t.Errorf("unexpected step/progress: %q %d", resp.CurrentStep, resp.Progress)
	}
	if len(resp.Options) != 2 || resp.Options[0].ID != "mode_buttons" || resp.Options[1].ID != "mode_conversation" {
		t.Errorf("unexpected options: %+v", resp.Options)
	}
}

func TestAssessmentHandler_MissingKey(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), nil)

	rr := do(t, s, http.MethodPost, "/api/assessment",
		`{"messages":[{"role":"assistant","content":"Hi"},{"role":"user","content":"Go"}],"interactionMode":"buttons"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"error":"OpenAI API key not configured"}` {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestAssessmentHandler_FallbackOnGenerationFailure(t *testing.T) {
	client := &mockGenAI{err: errors.New("upstream 503")}
	s := newTestServer(t, assessment.Spark(), client)

	rr := do(t, s, http.MethodPost, "/api/assessment",
		`{"messages":[{"role":"assistant","content":"Hi"},{"role":"user","content":"Go"}],"method":"9","interactionMode":"buttons"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeAssessment(t, rr)
	if resp.CurrentStep != "Method 9 - Getting Started" {
		t.Errorf("unexpected step: %q", resp.CurrentStep)
	}
	if len(resp.Options) != 1 || resp.Options[0].Text != "I'm ready to begin" {
		t.Errorf("unexpected options: %+v", resp.Options)
	}
	if strings.Contains(rr.Body.String(), "upstream 503") {
		t.Error("error text leaked into the response")
	}
}

func TestAssessmentHandler_CompleteRecordsLead(t *testing.T) {
	st := store.NewInMemoryStore()
	client := &mockGenAI{raw: completeJSON}
	s := newTestServer(t, assessment.VisaPlace(), client,
		WithLeadRepo(st),
		WithNotifier(notify.NewLeadNotifier(st, []string{"+15550001111"})))

	rr := do(t, s, http.MethodPost, "/api/assessment",
		`{"messages":[{"role":"user","content":"I want to study in Canada"}],"userInfo":{"name":"Ann"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeAssessment(t, rr)
	if resp.NextAction != models.NextActionComplete || resp.EligibilityScore == nil || *resp.EligibilityScore != 82 {
		t.Fatalf("generated response not relayed: %+v", resp)
	}

	leads, err := st.ListLeads(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leads))
	}
	lead := leads[0]
	if lead.Kind != models.LeadKindAssessment || lead.Name != "Ann" || lead.Profile != "visaplace" || lead.Progress != 100 {
		t.Errorf("unexpected lead: %+v", lead)
	}

	due, err := st.ClaimDueNotifications(context.Background(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].LeadID != lead.ID {
		t.Errorf("expected one queued notification for the lead, got %+v", due)
	}
}

func TestAssessmentHandler_ContinueDoesNotRecordLead(t *testing.T) {
	st := store.NewInMemoryStore()
	client := &mockGenAI{raw: `{"message":"Next?","currentStep":"Goals","progress":40,"options":[],"nextAction":"continue"}`}
	s := newTestServer(t, assessment.VisaPlace(), client, WithLeadRepo(st))

	rr := do(t, s, http.MethodPost, "/api/assessment", `{"messages":[{"role":"user","content":"Hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	leads, _ := st.ListLeads(context.Background(), 0)
	if len(leads) != 0 {
		t.Errorf("expected no leads, got %d", len(leads))
	}
}

func TestAssessmentHandler_BadRequests(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), nil)

	rr := do(t, s, http.MethodPost, "/api/assessment", `{"messages":`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodPost, "/api/assessment", `{"messages":[{"role":"robot","content":"x"}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid role, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodPost, "/api/assessment", `{"messages":[],"interactionMode":"telepathy"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid mode, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodGet, "/api/assessment", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != http.MethodPost {
		t.Errorf("expected Allow POST, got %q", got)
	}
}

func TestChatHandler_Streams(t *testing.T) {
	client := &mockGenAI{deltas: []string{"Hel", "lo"}}
	s := newTestServer(t, assessment.VisaPlace(), client)

	rr := do(t, s, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"Hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != "Hello" {
		t.Errorf("expected streamed body Hello, got %q", got)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !rr.Flushed {
		t.Error("expected the stream to be flushed")
	}
}

func TestChatHandler_Errors(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), &mockGenAI{})
	rr := do(t, s, http.MethodPost, "/api/chat", `{"messages":[]}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a chat prompt, got %d", rr.Code)
	}

	s = newTestServer(t, assessment.VisaPlace(), nil)
	rr = do(t, s, http.MethodPost, "/api/chat", `{"messages":[]}`)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 without a key, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "OpenAI API key not configured") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}

	s = newTestServer(t, assessment.VisaPlace(), &mockGenAI{err: errors.New("boom")})
	rr = do(t, s, http.MethodPost, "/api/chat", `{"messages":[]}`)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on upstream failure, got %d", rr.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), nil, WithVersion("1.2.3"))

	rr := do(t, s, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Status != "ok" || body.Timestamp != "2026-10-18T09:30:00Z" {
		t.Errorf("unexpected health body: %+v", body)
	}
	if body.Env.HasOpenAI || body.Env.Profile != "spark" || body.Env.Version != "1.2.3" {
		t.Errorf("unexpected env: %+v", body.Env)
	}

	rr = do(t, s, http.MethodPost, "/api/health", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func defaultCatalog(t *testing.T) *pricing.Catalog {
	t.Helper()
	c, err := pricing.DefaultCatalog()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	return c
}

func TestQuoteHandler(t *testing.T) {
	s := newTestServer(t, assessment.VisaPlace(), nil, WithCatalog(defaultCatalog(t)))

	rr := do(t, s, http.MethodPost, "/api/pricing/quote", `{"phases":[1],"components":["ai-chatbot","rag-memory"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Status string        `json:"status"`
		Result pricing.Quote `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Status != "ok" || body.Result.Breakdown.Total != 23000 {
		t.Errorf("unexpected quote: %+v", body)
	}

	rr = do(t, s, http.MethodPost, "/api/pricing/quote", `{"phases":[7]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown phase, got %d", rr.Code)
	}
}

func TestQuoteHandler_NoCatalog(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), nil)
	rr := do(t, s, http.MethodPost, "/api/pricing/quote", `{"phases":[1]}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestProposalHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	s := newTestServer(t, assessment.VisaPlace(), nil, WithCatalog(defaultCatalog(t)), WithLeadRepo(st))

	rr := do(t, s, http.MethodPost, "/api/pricing/proposal", `{"phases":[1,2],"name":"Acme Law"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="VisaPlace-AI-Proposal-2026-10-18.html"` {
		t.Errorf("unexpected disposition %q", cd)
	}
	if !strings.Contains(rr.Body.String(), "27,000") {
		t.Error("expected formatted total in proposal")
	}

	leads, _ := st.ListLeads(context.Background(), 0)
	if len(leads) != 1 || leads[0].Kind != models.LeadKindProposal || leads[0].Total == nil || *leads[0].Total != 27000 {
		t.Errorf("unexpected proposal lead: %+v", leads)
	}
	if leads[0].Name != "Acme Law" {
		t.Errorf("expected lead name to be recorded, got %q", leads[0].Name)
	}
}

const testLeadsToken = "s3cret"

func getLeads(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestLeadsHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	for i := 0; i < 3; i++ {
		if _, err := st.AddLead(context.Background(), models.Lead{Profile: "spark", Kind: models.LeadKindAssessment}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	s := newTestServer(t, assessment.Spark(), nil, WithLeadRepo(st), WithLeadsToken(testLeadsToken))

	rr := getLeads(t, s, "/api/leads?limit=2", testLeadsToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Status string        `json:"status"`
		Result []models.Lead `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Result) != 2 {
		t.Errorf("expected 2 leads, got %d", len(body.Result))
	}

	rr = getLeads(t, s, "/api/leads?limit=abc", testLeadsToken)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestLeadsHandler_NoStore(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), nil, WithLeadsToken(testLeadsToken))
	rr := getLeads(t, s, "/api/leads", testLeadsToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"status":"ok","result":[]}` {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestLeadsHandler_NotServedWithoutToken(t *testing.T) {
	st := store.NewInMemoryStore()
	s := newTestServer(t, assessment.Spark(), nil, WithLeadRepo(st))
	if rr := getLeads(t, s, "/api/leads", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a configured token, got %d", rr.Code)
	}
}

func TestLeadsHandler_RejectsBadToken(t *testing.T) {
	st := store.NewInMemoryStore()
	if _, err := st.AddLead(context.Background(), models.Lead{Profile: "spark", Kind: models.LeadKindAssessment, Name: "Tim"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := newTestServer(t, assessment.Spark(), nil, WithLeadRepo(st), WithLeadsToken(testLeadsToken))

	for _, token := range []string{"", "wrong"} {
		rr := getLeads(t, s, "/api/leads", token)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: expected 401, got %d", token, rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Errorf("token %q: expected WWW-Authenticate header", token)
		}
		if strings.Contains(rr.Body.String(), "Tim") {
			t.Errorf("token %q: lead data leaked: %s", token, rr.Body.String())
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), nil)
	do(t, s, http.MethodPost, "/api/assessment", `{"messages":[]}`)

	rr := do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `assesspipe_assessment_requests_total{outcome="mode_selection",profile="spark"} 1`) {
		t.Errorf("assessment counter missing from metrics output")
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, assessment.Spark(), nil, WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
