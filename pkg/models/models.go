// Package models defines the shared data model for the Deskwing runtime:
// conversations and turns, the agent response contract, tool definitions
// and results, routing configuration, and tenant policy types.
//
// These types are wire-level: they marshal to the JSON shapes used by the
// ingress boundary, the persistence layer, and the outbound event channel.
package models

import (
	"context"
	"time"
)

// ── Channels ─────────────────────────────────────────────────

// Channel identifies the inbound/outbound messaging surface a conversation
// lives on. Channel adapters are registered per channel.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelVoice    Channel = "voice"
)

// ── Conversation State ───────────────────────────────────────

// ConversationState is the per-conversation state machine position.
type ConversationState string

const (
	StateNew               ConversationState = "NEW"
	StateActiveQA          ConversationState = "ACTIVE_QA"
	StateOrderInquiry      ConversationState = "ORDER_INQUIRY"
	StateShipmentTracking  ConversationState = "SHIPMENT_TRACKING"
	StateReturnRefund      ConversationState = "RETURN_REFUND"
	StateProductInquiry    ConversationState = "PRODUCT_INQUIRY"
	StateLeadQualification ConversationState = "LEAD_QUALIFICATION"
	StateMeetingBooking    ConversationState = "MEETING_BOOKING"
	StateSupportTriage     ConversationState = "SUPPORT_TRIAGE"
	StateEscalated         ConversationState = "ESCALATED"
	StateResolved          ConversationState = "RESOLVED"
)

// AllStates lists every member of the state set, in declaration order.
var AllStates = []ConversationState{
	StateNew, StateActiveQA, StateOrderInquiry, StateShipmentTracking,
	StateReturnRefund, StateProductInquiry, StateLeadQualification,
	StateMeetingBooking, StateSupportTriage, StateEscalated, StateResolved,
}

// ValidState reports whether s is a member of the enumerated state set.
func ValidState(s ConversationState) bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

// ── Conversation & Turns ─────────────────────────────────────

// Role attributes a turn to its author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Attachment is a file or media reference carried on a turn.
type Attachment struct {
	Kind string `json:"kind"` // image, file, audio
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Turn is one message in a conversation. Turns are append-only.
type Turn struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ConversationRecord is the persisted state of one conversation. It is
// exclusively owned by the Orchestrator and mutated only within a single
// message-processing run for its conversation ID.
type ConversationRecord struct {
	ID                 string            `json:"id"`
	TenantID           string            `json:"tenant_id"`
	Channel            Channel           `json:"channel"`
	VisitorID          string            `json:"visitor_id,omitempty"`
	ContactID          string            `json:"contact_id,omitempty"`
	State              ConversationState `json:"state"`
	Turns              []Turn            `json:"turns"`
	Memory             map[string]string `json:"memory"` // extracted-fact map
	TurnCount          int               `json:"turn_count"`
	ClarificationCount int               `json:"clarification_count"`
	PrimaryIntent      string            `json:"primary_intent,omitempty"`
	TicketID           string            `json:"ticket_id,omitempty"`
	CSATRating         int               `json:"csat_rating,omitempty"` // 1-5, 0 = unrated
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// AppendTurn appends a turn and bumps the counters. Turns are never
// removed or reordered.
func (c *ConversationRecord) AppendTurn(t Turn) {
	c.Turns = append(c.Turns, t)
	if t.Role == RoleUser {
		c.TurnCount++
	}
	c.UpdatedAt = t.Timestamp
}

// ── Agent Response Contract ──────────────────────────────────

// TicketUpdate is the ticket payload an agent pass may emit.
type TicketUpdate struct {
	Subject  string            `json:"subject,omitempty"`
	Status   string            `json:"status,omitempty"`
	Priority string            `json:"priority,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Signals carries optional voice-of-customer classification emitted
// alongside the reply.
type Signals struct {
	Sentiment  string            `json:"sentiment,omitempty"` // positive, neutral, negative
	Confidence float64           `json:"confidence,omitempty"`
	Urgency    float64           `json:"urgency,omitempty"`
	Risk       float64           `json:"risk,omitempty"`
	Entities   map[string]string `json:"entities,omitempty"`
}

// ResolutionReceipt records that the model considers the issue closed.
type ResolutionReceipt struct {
	Resolved bool   `json:"resolved"`
	Summary  string `json:"summary,omitempty"`
	Code     string `json:"code,omitempty"`
}

// AgentResponse is the structured contract every generation pass must
// satisfy. The Agent Core parses model output into this shape; on parse
// failure a safe fallback response is substituted instead.
type AgentResponse struct {
	Message          string             `json:"message"`
	Intent           string             `json:"intent"`
	ExtractedFields  map[string]string  `json:"extracted_fields,omitempty"`
	ShouldEscalate   bool               `json:"should_escalate"`
	EscalationReason string             `json:"escalation_reason,omitempty"`
	TicketUpdate     *TicketUpdate      `json:"ticket_update,omitempty"`
	ToolCalls        []ToolCall         `json:"tool_calls,omitempty"`
	Signals          *Signals           `json:"signals,omitempty"`
	Receipt          *ResolutionReceipt `json:"resolution_receipt,omitempty"`
}

// ── Tool Calls & Definitions ─────────────────────────────────

// ToolCall is a structured request emitted by the model to invoke a named
// external capability.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolErrorKind classifies tool failures so callers can tell a bad
// argument from a rate limit from a downstream outage.
type ToolErrorKind string

const (
	ToolErrorNone        ToolErrorKind = ""
	ToolErrorUnknownTool ToolErrorKind = "unknown_tool"
	ToolErrorValidation  ToolErrorKind = "validation"
	ToolErrorAuth        ToolErrorKind = "auth"
	ToolErrorRateLimited ToolErrorKind = "rate_limited"
	ToolErrorTimeout     ToolErrorKind = "timeout"
	ToolErrorExecution   ToolErrorKind = "execution"
)

// ToolResult is the uniform outcome shape of every tool execution. Both
// successes and failures are surfaced to the refinement pass.
type ToolResult struct {
	Name         string         `json:"name"`
	Success      bool           `json:"success"`
	Data         map[string]any `json:"data,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    ToolErrorKind  `json:"error_kind,omitempty"`
	RetryAfterMs int64          `json:"retry_after_ms,omitempty"` // set for rate-limited failures
	Cached       bool           `json:"cached,omitempty"`
}

// AuthLevel gates who may invoke a tool.
type AuthLevel string

const (
	AuthPublic   AuthLevel = "public"   // any visitor
	AuthContact  AuthLevel = "contact"  // identified contact required
	AuthInternal AuthLevel = "internal" // runtime-internal only
)

// ToolHandler executes one tool call. Handlers receive validated
// arguments and return the result data or an error; transient failures
// should be wrapped in ToolExecutionError with Transient=true so the
// runtime's retry policy can distinguish them.
type ToolHandler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ToolDefinition describes one registered tool: its schemas, safety
// policy, and handler.
type ToolDefinition struct {
	Name          string
	Version       string
	Description   string
	InputSchema   map[string]any // JSON-schema subset: type/properties/required
	OutputSchema  map[string]any
	AuthLevel     AuthLevel
	RatePerMinute int           // 0 = unlimited
	Channels      []Channel     // empty = all channels
	Cacheable     bool          //
	CacheTTL      time.Duration //
	Retryable     bool          // one retry on transient failure
	RetryDelay    time.Duration //
	Timeout       time.Duration // per-call deadline, 0 = runtime default
	Handler       ToolHandler
}

// AllowsChannel reports whether the tool may run on the given channel.
func (d *ToolDefinition) AllowsChannel(ch Channel) bool {
	if len(d.Channels) == 0 {
		return true
	}
	for _, c := range d.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// ── Generation / Routing ─────────────────────────────────────

// RoutingStrategy selects how the Model Router picks a provider.
type RoutingStrategy string

const (
	// StrategyConfig always calls the primary provider and falls back to
	// secondary, then tertiary, only after the earlier attempt fails.
	StrategyConfig RoutingStrategy = "config"
	// StrategyABTest splits traffic between primary and secondary by a
	// configured percentage, keyed deterministically on conversation ID.
	StrategyABTest RoutingStrategy = "abtest"
)

// RoutingConfig configures the Model Router's provider chain.
type RoutingConfig struct {
	Primary      string          `json:"primary"`
	Secondary    string          `json:"secondary,omitempty"`
	Tertiary     string          `json:"tertiary,omitempty"`
	Strategy     RoutingStrategy `json:"strategy"`
	SplitPercent int             `json:"split_percent,omitempty"` // abtest: % routed to secondary
}

// Provider is one configured generation backend.
type Provider struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind"` // openai, azure-openai, anthropic, ollama
	Endpoint string         `json:"endpoint,omitempty"`
	Model    string         `json:"model"`
	Config   map[string]any `json:"config,omitempty"` // api_key, max_tokens, ...
}

// ChatMessage is one message in a generation request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage aggregates token accounting for one generation call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// GenerateRequest is a normalized generation call routed to a provider.
type GenerateRequest struct {
	Messages       []ChatMessage `json:"messages"`
	ConversationID string        `json:"conversation_id"` // abtest routing key
	RequestID      string        `json:"request_id"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
}

// GenerateResponse is the normalized result of a provider call.
type GenerateResponse struct {
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	Content   string     `json:"content"`
	Usage     TokenUsage `json:"usage"`
	LatencyMs int64      `json:"latency_ms"`
}

// ProviderStatus is the outcome of one provider health probe.
type ProviderStatus struct {
	Provider  string `json:"provider"`
	Kind      string `json:"kind"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ── Inbound / Outbound ───────────────────────────────────────

// MessageBody is the normalized message content of an inbound delivery.
type MessageBody struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// InboundMessage is the normalized payload a channel adapter delivers to
// the ingress boundary.
type InboundMessage struct {
	Channel        Channel           `json:"channel"`
	ConversationID string            `json:"conversation_id"`
	VisitorID      string            `json:"visitor_id"`
	ContactID      string            `json:"contact_id,omitempty"`
	UserProfile    map[string]string `json:"user_profile,omitempty"`
	Message        MessageBody       `json:"message"`
	Timestamp      time.Time         `json:"timestamp"`
	TenantID       string            `json:"tenant_id"`
}

// OutboundEventKind names a downstream side effect.
type OutboundEventKind string

const (
	EventSessionIndex   OutboundEventKind = "session_index"
	EventLearningSample OutboundEventKind = "learning_sample"
	EventTicketSync     OutboundEventKind = "ticket_sync"
)

// OutboundEvent is a best-effort downstream notification emitted after a
// pipeline run. The reply path never waits on its delivery.
type OutboundEvent struct {
	Kind           OutboundEventKind `json:"kind"`
	TenantID       string            `json:"tenant_id"`
	ConversationID string            `json:"conversation_id"`
	Payload        map[string]any    `json:"payload,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// ── Ticketing ────────────────────────────────────────────────

// Ticket mirrors the external ticketing system's record.
type Ticket struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Subject        string            `json:"subject"`
	Status         string            `json:"status"`
	Priority       string            `json:"priority,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ── Tenant Policy ────────────────────────────────────────────

// ChannelPolicy is the per-channel conversation policy for a tenant.
type ChannelPolicy struct {
	MaxTurns         int  `json:"max_turns" yaml:"max_turns"` // 0 = unlimited; exceeding forces escalation
	StreamingAllowed bool `json:"streaming_allowed" yaml:"streaming_allowed"`
}

// EscalationPolicy configures when a conversation is handed to a human.
type EscalationPolicy struct {
	MaxClarifications    int      `json:"max_clarifications" yaml:"max_clarifications"`
	FrustrationKeywords  []string `json:"frustration_keywords" yaml:"frustration_keywords"`
	EscalationIntents    []string `json:"escalation_intents" yaml:"escalation_intents"`
	SentimentThreshold   float64  `json:"sentiment_threshold" yaml:"sentiment_threshold"` // negative confidence above this escalates
	UrgencyThreshold     float64  `json:"urgency_threshold" yaml:"urgency_threshold"`
	RiskThreshold        float64  `json:"risk_threshold" yaml:"risk_threshold"`
}

// TenantPolicy is the read-only per-tenant configuration input.
type TenantPolicy struct {
	TenantID      string                    `json:"tenant_id" yaml:"tenant_id"`
	EnabledTools  []string                  `json:"enabled_tools" yaml:"enabled_tools"` // empty = all registered tools
	PromptVersion string                    `json:"prompt_version" yaml:"prompt_version"`
	Channels      map[Channel]ChannelPolicy `json:"channels" yaml:"channels"`
	Escalation    EscalationPolicy          `json:"escalation" yaml:"escalation"`
}

// ToolEnabled reports whether the tenant allows the named tool.
// An empty EnabledTools list allows every registered tool.
func (p *TenantPolicy) ToolEnabled(name string) bool {
	if len(p.EnabledTools) == 0 {
		return true
	}
	for _, t := range p.EnabledTools {
		if t == name {
			return true
		}
	}
	return false
}

// ChannelPolicyFor returns the policy for a channel, zero value if unset.
func (p *TenantPolicy) ChannelPolicyFor(ch Channel) ChannelPolicy {
	if p.Channels == nil {
		return ChannelPolicy{}
	}
	return p.Channels[ch]
}
