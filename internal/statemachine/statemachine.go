// Package statemachine decides conversation state transitions. It is a
// pure function layer: no mutable state is held between calls, and the
// only side channel is the audit event returned on an accepted transition.
//
// Transition outcomes are tri-state so callers can tell an idempotent
// no-op apart from a rejected (non-declared) edge.
package statemachine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/pkg/models"
)

// Outcome classifies a Transition call.
type Outcome int

const (
	// Accepted means the edge is declared and the state changed.
	Accepted Outcome = iota
	// NoOp means target equals current; nothing changed, no event.
	NoOp
	// Rejected means the edge is not declared; state preserved, no event.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case NoOp:
		return "noop"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Event is the audit record emitted for an accepted transition.
type Event struct {
	ConversationID string                   `json:"conversation_id"`
	From           models.ConversationState `json:"from"`
	To             models.ConversationState `json:"to"`
	Intent         string                   `json:"intent"`
	Timestamp      time.Time                `json:"timestamp"`
}

// Result is the outcome of one Transition call. Event is nil unless the
// transition was Accepted.
type Result struct {
	NewState models.ConversationState
	Outcome  Outcome
	Event    *Event
}

// intentTargets maps a classified intent to its target state. Unrecognized
// intents keep the conversation where it is.
var intentTargets = map[string]models.ConversationState{
	"greeting":         models.StateActiveQA,
	"general_question": models.StateActiveQA,

	"order_status": models.StateOrderInquiry,
	"order_cancel": models.StateOrderInquiry,
	"order_modify": models.StateOrderInquiry,
	"missing_item": models.StateOrderInquiry,
	"wrong_item":   models.StateOrderInquiry,
	"damaged_item": models.StateOrderInquiry,

	"tracking":        models.StateShipmentTracking,
	"delivery_status": models.StateShipmentTracking,
	"failed_delivery": models.StateShipmentTracking,

	"return_request":      models.StateReturnRefund,
	"refund_request":      models.StateReturnRefund,
	"replacement_request": models.StateReturnRefund,
	"refund_mismatch":     models.StateReturnRefund,

	"product_search": models.StateProductInquiry,
	"out_of_stock":   models.StateProductInquiry,
	"bulk_quote":     models.StateProductInquiry,
	"pricing":        models.StateProductInquiry,

	"lead_interest": models.StateLeadQualification,
	"demo_booking":  models.StateMeetingBooking,

	"app_issue":     models.StateSupportTriage,
	"payment_issue": models.StateSupportTriage,
	"warranty":      models.StateSupportTriage,

	"goodbye":        models.StateResolved,
	"issue_resolved": models.StateResolved,

	"complaint":        models.StateEscalated,
	"human_request":    models.StateEscalated,
	"legal":            models.StateEscalated,
	"negotiation":      models.StateEscalated,
	"discount_request": models.StateEscalated,
}

// allowedEdges is the directed-edge allow-list. ESCALATED is terminal.
// RESOLVED may reopen into any non-ESCALATED working state.
var allowedEdges = map[models.ConversationState][]models.ConversationState{
	models.StateNew: {
		models.StateActiveQA, models.StateOrderInquiry, models.StateShipmentTracking,
		models.StateReturnRefund, models.StateProductInquiry, models.StateLeadQualification,
		models.StateMeetingBooking, models.StateSupportTriage, models.StateEscalated,
	},
	models.StateActiveQA: {
		models.StateOrderInquiry, models.StateShipmentTracking, models.StateReturnRefund,
		models.StateProductInquiry, models.StateLeadQualification, models.StateMeetingBooking,
		models.StateSupportTriage, models.StateEscalated, models.StateResolved,
	},
	models.StateOrderInquiry: {
		models.StateShipmentTracking, models.StateReturnRefund,
		models.StateEscalated, models.StateResolved,
	},
	models.StateShipmentTracking: {
		models.StateOrderInquiry, models.StateReturnRefund,
		models.StateEscalated, models.StateResolved,
	},
	models.StateReturnRefund: {
		models.StateOrderInquiry, models.StateShipmentTracking,
		models.StateEscalated, models.StateResolved,
	},
	models.StateProductInquiry: {
		models.StateActiveQA, models.StateOrderInquiry, models.StateLeadQualification,
		models.StateEscalated, models.StateResolved,
	},
	models.StateLeadQualification: {
		models.StateActiveQA, models.StateMeetingBooking,
		models.StateEscalated, models.StateResolved,
	},
	models.StateMeetingBooking: {
		models.StateActiveQA, models.StateLeadQualification,
		models.StateEscalated, models.StateResolved,
	},
	models.StateSupportTriage: {
		models.StateActiveQA, models.StateEscalated, models.StateResolved,
	},
	// Reopen semantics: a resolved conversation can come back as anything
	// except a direct escalation.
	models.StateResolved: {
		models.StateActiveQA, models.StateOrderInquiry, models.StateShipmentTracking,
		models.StateReturnRefund, models.StateProductInquiry, models.StateLeadQualification,
		models.StateMeetingBooking, models.StateSupportTriage,
	},
	// ESCALATED is terminal — no outgoing edges.
	models.StateEscalated: {},
}

// ResolveTargetState maps (current state, intent, escalation flag) to the
// state the conversation should move toward. Escalation wins
// unconditionally and is idempotent from ESCALATED.
func ResolveTargetState(current models.ConversationState, intent string, shouldEscalate bool) models.ConversationState {
	if shouldEscalate {
		return models.StateEscalated
	}
	if target, ok := intentTargets[intent]; ok {
		return target
	}
	return current
}

// EdgeAllowed reports whether from→to is a declared edge.
func EdgeAllowed(from, to models.ConversationState) bool {
	for _, t := range allowedEdges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition validates the requested edge and returns the tri-state
// result. The prior state is always preserved unless the edge is both
// declared and a real change.
func Transition(conversationID string, current, target models.ConversationState, intent string) Result {
	if target == current {
		return Result{NewState: current, Outcome: NoOp}
	}
	if !EdgeAllowed(current, target) {
		log.Debug().
			Str("conversation", conversationID).
			Str("from", string(current)).
			Str("to", string(target)).
			Str("intent", intent).
			Msg("Transition rejected: edge not declared")
		return Result{NewState: current, Outcome: Rejected}
	}

	ev := &Event{
		ConversationID: conversationID,
		From:           current,
		To:             target,
		Intent:         intent,
		Timestamp:      time.Now().UTC(),
	}
	log.Info().
		Str("conversation", conversationID).
		Str("from", string(current)).
		Str("to", string(target)).
		Str("intent", intent).
		Msg("Conversation state transition")
	return Result{NewState: target, Outcome: Accepted, Event: ev}
}
