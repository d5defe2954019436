package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deskwing/deskwing/internal/agent"
	"github.com/deskwing/deskwing/internal/channels"
	"github.com/deskwing/deskwing/internal/config"
	"github.com/deskwing/deskwing/internal/orchestrator"
	"github.com/deskwing/deskwing/internal/router"
	"github.com/deskwing/deskwing/internal/store"
	"github.com/deskwing/deskwing/internal/tools"
	"github.com/deskwing/deskwing/pkg/models"
)

// queueDriver replays scripted model outputs in order; an empty string
// simulates a provider failure. It records the routing key of every call.
type queueDriver struct {
	mu      sync.Mutex
	outputs []string
	keys    []string
}

func (d *queueDriver) Kind() string { return "queued" }

func (d *queueDriver) Call(ctx context.Context, provider *models.Provider, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, req.ConversationID)
	if len(d.outputs) == 0 {
		return nil, errors.New("script exhausted")
	}
	out := d.outputs[0]
	d.outputs = d.outputs[1:]
	if out == "" {
		return nil, errors.New("provider down")
	}
	return &models.GenerateResponse{Model: provider.Model, Content: out}, nil
}

func (d *queueDriver) HealthCheck(ctx context.Context, provider *models.Provider) error { return nil }

// memoryAdapter records outbound channel operations.
type memoryAdapter struct {
	mu          sync.Mutex
	messages    []string
	escalations []string
}

func (a *memoryAdapter) SendMessage(ctx context.Context, conversationID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, text)
	return nil
}

func (a *memoryAdapter) SendTyping(ctx context.Context, conversationID string) error { return nil }

func (a *memoryAdapter) EscalateToHuman(ctx context.Context, conversationID, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.escalations = append(a.escalations, reason)
	return nil
}

func (a *memoryAdapter) AddTags(ctx context.Context, conversationID string, tags []string) error {
	return nil
}

func (a *memoryAdapter) SetDepartment(ctx context.Context, conversationID, department string) error {
	return nil
}

func (a *memoryAdapter) SendRichMedia(ctx context.Context, conversationID string, media models.Attachment) error {
	return nil
}

func (a *memoryAdapter) SendTemplate(ctx context.Context, conversationID, templateID string, vars map[string]string) error {
	return nil
}

type fixture struct {
	orch    *orchestrator.Orchestrator
	store   *store.MemoryStore
	adapter *memoryAdapter
	driver  *queueDriver
}

func newFixture(t *testing.T, outputs ...string) *fixture {
	t.Helper()

	mr := router.NewModelRouter(
		models.RoutingConfig{Primary: "main", Strategy: models.StrategyConfig},
		[]models.Provider{{Name: "main", Kind: "queued", Model: "m"}},
	)
	driver := &queueDriver{outputs: outputs}
	mr.RegisterDriver(driver)

	reg := tools.NewRegistry()
	reg.Register(&models.ToolDefinition{
		Name: "order_lookup", Version: "1",
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"status": "shipped"}, nil
		},
	})

	st := store.NewMemoryStore()
	adapter := &memoryAdapter{}
	chReg := channels.NewRegistry()
	chReg.Register(models.ChannelWeb, adapter)

	orch := orchestrator.New(st, agent.NewCore(mr), tools.NewRuntime(reg), chReg, nil, nil, config.NewTenantRegistry())
	return &fixture{orch: orch, store: st, adapter: adapter, driver: driver}
}

func inbound(conversationID, text string) *models.InboundMessage {
	return &models.InboundMessage{
		Channel:        models.ChannelWeb,
		ConversationID: conversationID,
		VisitorID:      "v1",
		TenantID:       "acme",
		Message:        models.MessageBody{Text: text},
		Timestamp:      time.Now(),
	}
}

const orderReply = `{"message": "Checking your order now.", "intent": "order_status"}`

func TestHandleMessage_NewConversation(t *testing.T) {
	f := newFixture(t, orderReply)

	if err := f.orch.HandleMessage(context.Background(), inbound("c1", "where is order Q123")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	rec, _ := f.store.Get(context.Background(), "c1")
	if rec == nil {
		t.Fatal("conversation not persisted")
	}
	if rec.State != models.StateOrderInquiry {
		t.Errorf("state = %s, want ORDER_INQUIRY", rec.State)
	}
	if len(rec.Turns) != 2 {
		t.Fatalf("turns = %d, want user + assistant", len(rec.Turns))
	}
	if rec.Turns[0].Role != models.RoleUser || rec.Turns[1].Role != models.RoleAssistant {
		t.Errorf("turn roles = %s, %s", rec.Turns[0].Role, rec.Turns[1].Role)
	}
	if rec.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1", rec.TurnCount)
	}
	if rec.PrimaryIntent != "order_status" {
		t.Errorf("PrimaryIntent = %q", rec.PrimaryIntent)
	}
	if len(f.adapter.messages) != 1 || f.adapter.messages[0] != "Checking your order now." {
		t.Errorf("delivered = %v", f.adapter.messages)
	}
}

func TestHandleMessage_RoutingKeyStableAcrossTurns(t *testing.T) {
	f := newFixture(t, orderReply, orderReply)

	if err := f.orch.HandleMessage(context.Background(), inbound("c1", "where is order Q123")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if err := f.orch.HandleMessage(context.Background(), inbound("c1", "any update?")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	f.driver.mu.Lock()
	keys := append([]string(nil), f.driver.keys...)
	f.driver.mu.Unlock()
	if len(keys) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(keys))
	}
	// The abtest bucket hashes this key; a fresh turn must present the
	// same one or the conversation hops providers mid-flight.
	if keys[0] != "c1" || keys[1] != "c1" {
		t.Errorf("routing keys = %v, want c1 on every call", keys)
	}
}

func TestHandleMessage_ToolCallAndRefinement(t *testing.T) {
	firstPass := `{
		"message": "Let me look that up.",
		"intent": "order_status",
		"tool_calls": [{"name": "order_lookup", "arguments": {"order_id": "Q123"}}]
	}`
	refined := `{"message": "Order Q123 shipped yesterday.", "intent": "order_status", "extracted_fields": {"order_id": "Q123"}}`
	f := newFixture(t, firstPass, refined)

	if err := f.orch.HandleMessage(context.Background(), inbound("c1", "where is order Q123")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(f.adapter.messages) != 1 || f.adapter.messages[0] != "Order Q123 shipped yesterday." {
		t.Errorf("delivered = %v, want the refined reply", f.adapter.messages)
	}
	rec, _ := f.store.Get(context.Background(), "c1")
	if rec.Memory["order_id"] != "Q123" {
		t.Errorf("memory = %v, want extracted order_id", rec.Memory)
	}
}

func TestHandleMessage_RefinementFailureKeepsFirstPass(t *testing.T) {
	firstPass := `{
		"message": "Let me look that up.",
		"intent": "order_status",
		"tool_calls": [{"name": "order_lookup", "arguments": {}}]
	}`
	f := newFixture(t, firstPass, "totally not json")

	if err := f.orch.HandleMessage(context.Background(), inbound("c1", "where is my order")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(f.adapter.messages) != 1 || f.adapter.messages[0] != "Let me look that up." {
		t.Errorf("delivered = %v, want the first-pass reply", f.adapter.messages)
	}
}

func TestHandleMessage_EscalationKeyword(t *testing.T) {
	f := newFixture(t, `{"message": "I understand your frustration.", "intent": "general_question"}`)

	if err := f.orch.HandleMessage(context.Background(), inbound("c1", "this is ridiculous, fix it")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	// Default policy carries no frustration keywords; model did not
	// escalate, so the conversation stays in the working set.
	rec, _ := f.store.Get(context.Background(), "c1")
	if rec.State == models.StateEscalated {
		t.Fatalf("state = ESCALATED without any trigger")
	}
}

func TestHandleMessage_ModelEscalates(t *testing.T) {
	f := newFixture(t, `{"message": "Connecting you to our team.", "intent": "complaint", "should_escalate": true, "escalation_reason": "refund dispute"}`)

	if err := f.orch.HandleMessage(context.Background(), inbound("c1", "I demand a refund now")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	rec, _ := f.store.Get(context.Background(), "c1")
	if rec.State != models.StateEscalated {
		t.Fatalf("state = %s, want ESCALATED", rec.State)
	}
	if len(f.adapter.escalations) != 1 || f.adapter.escalations[0] != "refund dispute" {
		t.Errorf("escalations = %v", f.adapter.escalations)
	}
}

func TestHandleMessage_EscalatedConversationIgnoresInput(t *testing.T) {
	f := newFixture(t, `{"message": "Connecting you to our team.", "intent": "complaint", "should_escalate": true}`)
	ctx := context.Background()

	if err := f.orch.HandleMessage(ctx, inbound("c1", "complaint")); err != nil {
		t.Fatal(err)
	}
	before, _ := f.store.Get(ctx, "c1")

	// No scripted output remains; a second pipeline run would fail loudly.
	if err := f.orch.HandleMessage(ctx, inbound("c1", "hello?")); err != nil {
		t.Fatalf("HandleMessage() on escalated conversation error = %v", err)
	}
	after, _ := f.store.Get(ctx, "c1")
	if len(after.Turns) != len(before.Turns) {
		t.Errorf("turns grew from %d to %d on an escalated conversation", len(before.Turns), len(after.Turns))
	}
	if len(f.adapter.messages) != 1 {
		t.Errorf("delivered %d messages, want only the escalation reply", len(f.adapter.messages))
	}
}

func TestHandleMessage_ProviderFailureDegradesOnceThenEscalates(t *testing.T) {
	f := newFixture(t, "", "") // both calls fail
	ctx := context.Background()

	if err := f.orch.HandleMessage(ctx, inbound("c1", "hi")); err != nil {
		t.Fatalf("first failure: error = %v, want degraded reply", err)
	}
	rec, _ := f.store.Get(ctx, "c1")
	if rec.State == models.StateEscalated {
		t.Fatal("escalated after a single provider failure")
	}
	if len(f.adapter.messages) != 1 {
		t.Fatalf("delivered = %v, want one degraded reply", f.adapter.messages)
	}

	if err := f.orch.HandleMessage(ctx, inbound("c1", "hello??")); err != nil {
		t.Fatalf("second failure: error = %v", err)
	}
	rec, _ = f.store.Get(ctx, "c1")
	if rec.State != models.StateEscalated {
		t.Errorf("state = %s after repeated provider failures, want ESCALATED", rec.State)
	}
	if len(f.adapter.escalations) != 1 {
		t.Errorf("escalations = %v, want handoff notice", f.adapter.escalations)
	}
}

func TestHandleMessage_ConcurrentDistinctConversations(t *testing.T) {
	outputs := make([]string, 16)
	for i := range outputs {
		outputs[i] = orderReply
	}
	f := newFixture(t, outputs...)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "conv-" + string(rune('a'+i))
			if err := f.orch.HandleMessage(context.Background(), inbound(id, "where is my order")); err != nil {
				t.Errorf("conversation %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if f.store.Len() != 16 {
		t.Errorf("stored conversations = %d, want 16", f.store.Len())
	}
}

func TestRecordCSAT(t *testing.T) {
	f := newFixture(t,
		orderReply,
		`{"message": "Glad I could help!", "intent": "issue_resolved"}`,
	)
	ctx := context.Background()

	if err := f.orch.RecordCSAT(ctx, "c1", 5); err == nil {
		t.Error("RecordCSAT() on missing conversation succeeded")
	}

	if err := f.orch.HandleMessage(ctx, inbound("c1", "where is my order")); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.RecordCSAT(ctx, "c1", 5); err == nil {
		t.Error("RecordCSAT() on unresolved conversation succeeded")
	}

	if err := f.orch.HandleMessage(ctx, inbound("c1", "thanks, all sorted")); err != nil {
		t.Fatal(err)
	}
	rec, _ := f.store.Get(ctx, "c1")
	if rec.State != models.StateResolved {
		t.Fatalf("state = %s, want RESOLVED", rec.State)
	}

	if err := f.orch.RecordCSAT(ctx, "c1", 0); err == nil {
		t.Error("RecordCSAT() accepted out-of-range rating")
	}
	if err := f.orch.RecordCSAT(ctx, "c1", 4); err != nil {
		t.Fatalf("RecordCSAT() error = %v", err)
	}
	rec, _ = f.store.Get(ctx, "c1")
	if rec.CSATRating != 4 {
		t.Errorf("CSATRating = %d, want 4", rec.CSATRating)
	}
}
