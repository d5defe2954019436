package agent

import (
	"strings"

	"github.com/deskwing/deskwing/pkg/models"
)

// EscalationDecision is the outcome of evaluating tenant escalation policy
// against one agent pass.
type EscalationDecision struct {
	Escalate bool
	Reason   string
}

// EvaluateEscalation applies tenant escalation policy on top of the
// model's own judgement. Any single trigger is sufficient.
func EvaluateEscalation(policy models.EscalationPolicy, resp *models.AgentResponse, userMessage string, clarificationCount int) EscalationDecision {
	if resp.ShouldEscalate {
		reason := resp.EscalationReason
		if reason == "" {
			reason = "model requested escalation"
		}
		return EscalationDecision{Escalate: true, Reason: reason}
	}

	for _, intent := range policy.EscalationIntents {
		if resp.Intent == intent {
			return EscalationDecision{Escalate: true, Reason: "escalation intent: " + intent}
		}
	}

	lower := strings.ToLower(userMessage)
	for _, kw := range policy.FrustrationKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return EscalationDecision{Escalate: true, Reason: "frustration keyword: " + kw}
		}
	}

	if policy.MaxClarifications > 0 && clarificationCount >= policy.MaxClarifications {
		return EscalationDecision{Escalate: true, Reason: "clarification limit reached"}
	}

	if s := resp.Signals; s != nil {
		if policy.SentimentThreshold > 0 && s.Sentiment == "negative" && s.Confidence >= policy.SentimentThreshold {
			return EscalationDecision{Escalate: true, Reason: "negative sentiment"}
		}
		if policy.UrgencyThreshold > 0 && s.Urgency >= policy.UrgencyThreshold {
			return EscalationDecision{Escalate: true, Reason: "urgency threshold"}
		}
		if policy.RiskThreshold > 0 && s.Risk >= policy.RiskThreshold {
			return EscalationDecision{Escalate: true, Reason: "risk threshold"}
		}
	}

	return EscalationDecision{}
}

// IsClarification reports whether an agent reply looks like a
// clarifying question rather than an answer. Used to advance the
// per-conversation clarification counter.
func IsClarification(resp *models.AgentResponse) bool {
	if resp.Intent == "clarification" {
		return true
	}
	msg := strings.TrimSpace(resp.Message)
	return strings.HasSuffix(msg, "?") && len(resp.ToolCalls) == 0 && resp.Receipt == nil
}
