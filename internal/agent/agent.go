// Package agent implements the Agent Core: it assembles bounded
// generation context from history and structured memory, calls the Model
// Router, parses the strict response contract, and runs the refinement
// pass that grounds the final reply in tool outcomes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/internal/router"
	"github.com/deskwing/deskwing/pkg/models"
)

// DefaultHistoryWindow is how many trailing turns are included in the
// generation context.
const DefaultHistoryWindow = 20

// DefaultPromptVersion is used when the tenant selects none.
const DefaultPromptVersion = "v1"

// Core drives generation passes through the Model Router.
type Core struct {
	router        *router.ModelRouter
	prompts       map[string]string // prompt version → system template
	historyWindow int
}

// Option mutates Core construction.
type Option func(*Core)

// WithHistoryWindow bounds the number of history turns sent per pass.
func WithHistoryWindow(n int) Option {
	return func(c *Core) { c.historyWindow = n }
}

// WithPrompt registers or replaces a system prompt version.
func WithPrompt(version, template string) Option {
	return func(c *Core) { c.prompts[version] = template }
}

// NewCore creates an Agent Core over the given router.
func NewCore(mr *router.ModelRouter, opts ...Option) *Core {
	c := &Core{
		router:        mr,
		prompts:       map[string]string{DefaultPromptVersion: defaultSystemPrompt},
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process runs the first generation pass for one inbound message. The
// conversation ID keys the router's abtest bucket, so one conversation
// stays on one provider across passes and turns.
//
// A response that cannot be parsed against the contract does not fail the
// pipeline: a safe fallback (generic, non-escalating) is returned and the
// parse failure is logged for offline review. A *models.ProviderError is
// returned only when every configured provider failed.
func (c *Core) Process(ctx context.Context, conversationID, message string, history []models.Turn, memory map[string]string, channel models.Channel, promptVersion, requestID string) (*models.AgentResponse, error) {
	messages := c.buildContext(message, history, memory, channel, promptVersion, nil, nil)

	resp, err := c.router.Generate(ctx, &models.GenerateRequest{
		Messages:       messages,
		ConversationID: conversationID,
		RequestID:      requestID,
	})
	if err != nil {
		return nil, err
	}

	parsed, perr := parseAgentResponse(requestID, resp.Content)
	if perr != nil {
		logParseFailure(requestID, resp.Content, perr)
		return fallbackResponse(), nil
	}
	return parsed, nil
}

// ProcessWithToolResults runs the refinement pass. It receives both
// successful and failed tool outcomes and must ground the final reply and
// extracted fields in what the tools actually returned. The caller keeps
// the first pass's reply if this pass fails.
func (c *Core) ProcessWithToolResults(ctx context.Context, conversationID, message string, history []models.Turn, memory map[string]string, channel models.Channel, results []models.ToolResult, prior *models.AgentResponse, promptVersion, requestID string) (*models.AgentResponse, error) {
	messages := c.buildContext(message, history, memory, channel, promptVersion, results, prior)

	resp, err := c.router.Generate(ctx, &models.GenerateRequest{
		Messages:       messages,
		ConversationID: conversationID,
		RequestID:      requestID,
	})
	if err != nil {
		return nil, err
	}

	parsed, perr := parseAgentResponse(requestID, resp.Content)
	if perr != nil {
		logParseFailure(requestID, resp.Content, perr)
		return nil, perr
	}
	// Refinement must not drop a tool-grounded escalation the first pass
	// already decided on.
	if prior != nil && prior.ShouldEscalate && !parsed.ShouldEscalate {
		parsed.ShouldEscalate = true
		parsed.EscalationReason = prior.EscalationReason
	}
	return parsed, nil
}

// buildContext assembles the message sequence for one generation pass.
func (c *Core) buildContext(message string, history []models.Turn, memory map[string]string, channel models.Channel, promptVersion string, results []models.ToolResult, prior *models.AgentResponse) []models.ChatMessage {
	system := c.systemPrompt(promptVersion)

	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\nChannel: ")
	sb.WriteString(string(channel))

	if len(memory) > 0 {
		sb.WriteString("\n\nKnown facts about this customer and conversation:\n")
		for k, v := range memory {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", k, v))
		}
	}

	if results != nil {
		sb.WriteString("\n\nTool results for the latest request. Ground your reply ")
		sb.WriteString("strictly in these outcomes; if a tool failed, explain the ")
		sb.WriteString("failure to the customer instead of inventing data:\n")
		for _, r := range results {
			encoded, _ := json.Marshal(r)
			sb.WriteString(string(encoded))
			sb.WriteString("\n")
		}
		if prior != nil && prior.Message != "" {
			sb.WriteString("\nYour draft reply before tool execution was:\n")
			sb.WriteString(prior.Message)
		}
	}

	messages := []models.ChatMessage{{Role: "system", Content: sb.String()}}

	start := 0
	if c.historyWindow > 0 && len(history) > c.historyWindow {
		start = len(history) - c.historyWindow
	}
	for _, t := range history[start:] {
		role := string(t.Role)
		if t.Role == models.RoleSystem {
			continue
		}
		messages = append(messages, models.ChatMessage{Role: role, Content: t.Content})
	}

	messages = append(messages, models.ChatMessage{Role: "user", Content: message})
	return messages
}

func (c *Core) systemPrompt(version string) string {
	if version == "" {
		version = DefaultPromptVersion
	}
	if p, ok := c.prompts[version]; ok {
		return p
	}
	log.Warn().Str("prompt_version", version).Msg("Unknown prompt version, using default")
	return c.prompts[DefaultPromptVersion]
}

func logParseFailure(requestID, raw string, err error) {
	snippet := raw
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	log.Warn().
		Str("request", requestID).
		Str("raw", snippet).
		Err(err).
		Msg("Agent response failed contract parse, substituting fallback")
}

const defaultSystemPrompt = `You are a customer support agent. Respond ONLY with a JSON object matching this contract:
{
  "message": "<reply to the customer>",
  "intent": "<one classification label>",
  "extracted_fields": {"<field>": "<value>"},
  "should_escalate": false,
  "escalation_reason": "",
  "ticket_update": null,
  "tool_calls": [{"name": "<tool>", "arguments": {}}],
  "signals": {"sentiment": "neutral", "confidence": 0.0},
  "resolution_receipt": null
}
Emit tool_calls when you need live data (orders, shipments, products, tickets). Never fabricate order or shipment details.`
