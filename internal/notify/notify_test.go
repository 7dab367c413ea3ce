package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/BTreeMap/AssessPipe/internal/store"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type mockMessageAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (m *mockMessageAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

type countingObserver struct {
	results map[string]int
}

func (o *countingObserver) NotificationResult(result string) {
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[result]++
}

func TestClient_SendMessageSMS(t *testing.T) {
	api := &mockMessageAPI{}
	c := &Client{api: api, from: "+15550000000"}

	if err := c.SendMessage(context.Background(), "+15551112222", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected 1 request, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.To != "+15551112222" || *p.From != "+15550000000" || *p.Body != "hello" {
		t.Errorf("unexpected params: to=%s from=%s body=%s", *p.To, *p.From, *p.Body)
	}
}

func TestClient_SendMessageWhatsApp(t *testing.T) {
	api := &mockMessageAPI{}
	c := &Client{api: api, from: "whatsapp:+15550000000"}

	if err := c.SendMessage(context.Background(), "+15551112222", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *api.params[0].To; got != "whatsapp:+15551112222" {
		t.Errorf("expected whatsapp-prefixed recipient, got %s", got)
	}

	if err := c.SendMessage(context.Background(), "whatsapp:+15553334444", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *api.params[1].To; got != "whatsapp:+15553334444" {
		t.Errorf("expected recipient unchanged, got %s", got)
	}
}

func TestClient_SendMessageError(t *testing.T) {
	c := &Client{api: &mockMessageAPI{err: errors.New("21211 invalid number")}, from: "+15550000000"}
	err := c.SendMessage(context.Background(), "+1", "hello")
	if err == nil || !strings.Contains(err.Error(), "invalid number") {
		t.Errorf("expected wrapped Twilio error, got %v", err)
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(WithAccountSID("AC123")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFrom("+15550000000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Error("expected client instance, got nil")
	}
}

func TestMockClient_SendMessage(t *testing.T) {
	mock := NewMockClient()
	if err := mock.SendMessage(context.Background(), "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("message not recorded: %+v", mock.SentMessages)
	}
}

func TestFormatLead(t *testing.T) {
	score := 78
	body := FormatLead(models.Lead{
		ID:               "lead-1",
		Profile:          "visaplace",
		Kind:             models.LeadKindAssessment,
		Name:             "Ann",
		CurrentStep:      "Results",
		Progress:         100,
		EligibilityScore: &score,
		Recommendations:  []string{"a", "b", "c", "d"},
	})
	want := "New visaplace assessment completed by Ann.\nStep: Results (100%)\nEligibility score: 78/100\n- a\n- b\n- c\nRef: lead-1"
	if body != want {
		t.Errorf("unexpected body:\n%s\nwant:\n%s", body, want)
	}

	total := int64(17000)
	body = FormatLead(models.Lead{ID: "lead-2", Profile: "visaplace", Kind: models.LeadKindProposal, Total: &total})
	if body != "New visaplace proposal download.\nQuote total: $17,000\nRef: lead-2" {
		t.Errorf("unexpected proposal body: %q", body)
	}
}

func TestLeadNotifier_QueuesPerRecipient(t *testing.T) {
	st := store.NewInMemoryStore()
	n := NewLeadNotifier(st, []string{"+15551112222", " ", "+15553334444"})

	lead := models.Lead{ID: "lead-1", Profile: "spark", Kind: models.LeadKindAssessment}
	if err := n.Notify(context.Background(), lead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.Notify(context.Background(), lead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	due, err := st.ClaimDueNotifications(context.Background(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 {
		t.Errorf("expected one queued notification per recipient, got %d", len(due))
	}
}

func TestDispatcher_SendsAndRetries(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	if _, err := st.EnqueueNotification(ctx, "lead-1", "+15551112222", "alert"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sender := NewMockClient()
	sender.Err = errors.New("twilio down")
	obs := &countingObserver{}
	d := NewDispatcher(st, sender, WithMaxAttempts(2), WithObserver(obs))
	clock := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	d.Poll(ctx)
	if obs.results[ResultRetry] != 1 {
		t.Fatalf("expected a retry to be scheduled, got %v", obs.results)
	}

	// Not due yet.
	sender.Err = nil
	d.Poll(ctx)
	if len(sender.SentMessages) != 0 {
		t.Fatalf("expected no send before backoff elapsed, got %d", len(sender.SentMessages))
	}

	clock = clock.Add(11 * time.Second)
	d.Poll(ctx)
	if len(sender.SentMessages) != 1 || sender.SentMessages[0].Body != "alert" {
		t.Fatalf("expected alert to be delivered after backoff, got %+v", sender.SentMessages)
	}
	if obs.results[ResultSent] != 1 {
		t.Errorf("expected one sent result, got %v", obs.results)
	}
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	if _, err := st.EnqueueNotification(ctx, "lead-1", "+15551112222", "alert"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sender := NewMockClient()
	sender.Err = errors.New("invalid number")
	obs := &countingObserver{}
	d := NewDispatcher(st, sender, WithMaxAttempts(1), WithObserver(obs))
	clock := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	d.Poll(ctx)
	if obs.results[ResultFailed] != 1 {
		t.Fatalf("expected terminal failure, got %v", obs.results)
	}

	sender.Err = nil
	clock = clock.Add(time.Hour)
	d.Poll(ctx)
	if len(sender.SentMessages) != 0 {
		t.Errorf("expected abandoned notification to stay unsent, got %d", len(sender.SentMessages))
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(store.NewInMemoryStore(), NewMockClient(), WithPollInterval(time.Millisecond))
	if err := d.RecoverStale(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
