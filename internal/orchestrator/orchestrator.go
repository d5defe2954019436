// Package orchestrator wires the full message pipeline: per-conversation
// serialization, state loading, the two agent passes around tool
// execution, the state machine transition, persistence, outbound
// delivery, and best-effort downstream events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/deskwing/deskwing/internal/agent"
	"github.com/deskwing/deskwing/internal/channels"
	"github.com/deskwing/deskwing/internal/config"
	"github.com/deskwing/deskwing/internal/statemachine"
	"github.com/deskwing/deskwing/internal/tools"
	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

var tracer = otel.Tracer("deskwing-orchestrator")

// maxProviderFailures is how many consecutive total-provider failures a
// conversation absorbs before it is handed to a human.
const maxProviderFailures = 2

const degradedReply = "I'm having trouble reaching our systems right now. Please give me a moment and try again."

// Orchestrator runs the per-message pipeline.
type Orchestrator struct {
	store    contracts.ConversationStore
	agent    *agent.Core
	tools    *tools.Runtime
	channels *channels.Registry
	tickets  contracts.Ticketing
	events   contracts.Collector
	tenants  *config.TenantRegistry

	// Per-conversation locks serialize pipeline runs so concurrent
	// messages for one conversation never interleave.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	// Consecutive provider-failure counts per conversation.
	failMu   sync.Mutex
	failures map[string]int
}

// New creates an orchestrator over its collaborators. Ticketing and the
// collector may be nil; those side effects are then skipped.
func New(store contracts.ConversationStore, core *agent.Core, runtime *tools.Runtime, registry *channels.Registry, tickets contracts.Ticketing, events contracts.Collector, tenants *config.TenantRegistry) *Orchestrator {
	return &Orchestrator{
		store:    store,
		agent:    core,
		tools:    runtime,
		channels: registry,
		tickets:  tickets,
		events:   events,
		tenants:  tenants,
		locks:    make(map[string]*sync.Mutex),
		failures: make(map[string]int),
	}
}

// HandleMessage runs the full pipeline for one inbound message. Messages
// for different conversations run concurrently; messages for the same
// conversation are serialized in arrival order.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *models.InboundMessage) error {
	ctx, span := tracer.Start(ctx, "pipeline.handle_message")
	span.SetAttributes(
		attribute.String("conversation.id", msg.ConversationID),
		attribute.String("tenant.id", msg.TenantID),
		attribute.String("channel", string(msg.Channel)),
	)
	defer span.End()

	lock := o.conversationLock(msg.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := o.loadOrCreate(ctx, msg)
	if err != nil {
		return err
	}

	if rec.State == models.StateEscalated {
		// A human owns this conversation now; the runtime stays silent.
		log.Debug().Str("conversation", rec.ID).Msg("Message on escalated conversation ignored")
		return o.store.Save(ctx, rec)
	}

	requestID := uuid.NewString()
	policy := o.tenants.Policy(msg.TenantID)

	rec.AppendTurn(models.Turn{
		ID:          uuid.NewString(),
		Role:        models.RoleUser,
		Content:     msg.Message.Text,
		Timestamp:   stamp(msg.Timestamp),
		Attachments: msg.Message.Attachments,
	})

	// Channel turn budget: exceeding it forces a handoff.
	chPolicy := policy.ChannelPolicyFor(msg.Channel)
	if chPolicy.MaxTurns > 0 && rec.TurnCount > chPolicy.MaxTurns {
		return o.escalate(ctx, rec, policy, "turn limit reached for channel "+string(msg.Channel), "")
	}

	history := rec.Turns[:len(rec.Turns)-1]
	resp, err := o.agent.Process(ctx, rec.ID, msg.Message.Text, history, rec.Memory, msg.Channel, policy.PromptVersion, requestID)
	if err != nil {
		var perr *models.ProviderError
		if errors.As(err, &perr) {
			return o.handleProviderFailure(ctx, rec, policy, perr)
		}
		return err
	}
	o.resetFailures(rec.ID)

	if len(resp.ToolCalls) > 0 {
		results := o.tools.Execute(ctx, policy, msg.Channel, resp.ToolCalls)
		refined, rerr := o.agent.ProcessWithToolResults(ctx, rec.ID, msg.Message.Text, history, rec.Memory, msg.Channel, results, resp, policy.PromptVersion, requestID)
		if rerr != nil {
			// Keep the first pass's reply rather than fail the turn.
			log.Warn().Str("conversation", rec.ID).Err(rerr).Msg("Refinement pass failed, keeping first-pass reply")
		} else {
			refined.ToolCalls = nil
			resp = refined
		}
	}

	if agent.IsClarification(resp) {
		rec.ClarificationCount++
	} else {
		rec.ClarificationCount = 0
	}

	decision := agent.EvaluateEscalation(policy.Escalation, resp, msg.Message.Text, rec.ClarificationCount)

	o.mergeMemory(rec, resp)
	if rec.PrimaryIntent == "" && resp.Intent != "" {
		rec.PrimaryIntent = resp.Intent
	}

	o.applyTransition(rec, resp.Intent, decision.Escalate)

	o.syncTicket(ctx, rec, resp)

	rec.AppendTurn(models.Turn{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   resp.Message,
		Timestamp: time.Now().UTC(),
	})

	if err := o.store.Save(ctx, rec); err != nil {
		return err
	}

	o.deliver(ctx, rec, resp.Message, decision)
	o.emitEvents(rec, resp)
	return nil
}

// RecordCSAT stores a satisfaction rating on a resolved conversation.
func (o *Orchestrator) RecordCSAT(ctx context.Context, conversationID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("csat rating %d out of range 1-5", rating)
	}

	lock := o.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := o.store.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	if rec.State != models.StateResolved {
		return fmt.Errorf("conversation %s is %s, csat accepted only when resolved", conversationID, rec.State)
	}

	rec.CSATRating = rating
	rec.UpdatedAt = time.Now().UTC()
	if err := o.store.Save(ctx, rec); err != nil {
		return err
	}
	log.Info().Str("conversation", conversationID).Int("rating", rating).Msg("CSAT recorded")
	return nil
}

// GetConversation returns the stored record, (nil, nil) when absent.
func (o *Orchestrator) GetConversation(ctx context.Context, conversationID string) (*models.ConversationRecord, error) {
	return o.store.Get(ctx, conversationID)
}

// ── Pipeline steps ──────────────────────────────────────────

func (o *Orchestrator) loadOrCreate(ctx context.Context, msg *models.InboundMessage) (*models.ConversationRecord, error) {
	rec, err := o.store.Get(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if msg.ContactID != "" {
			rec.ContactID = msg.ContactID
		}
		return rec, nil
	}

	now := time.Now().UTC()
	return &models.ConversationRecord{
		ID:        msg.ConversationID,
		TenantID:  msg.TenantID,
		Channel:   msg.Channel,
		VisitorID: msg.VisitorID,
		ContactID: msg.ContactID,
		State:     models.StateNew,
		Memory:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// handleProviderFailure replies with a degraded message; repeated total
// failures hand the conversation to a human instead of looping.
func (o *Orchestrator) handleProviderFailure(ctx context.Context, rec *models.ConversationRecord, policy *models.TenantPolicy, perr *models.ProviderError) error {
	o.failMu.Lock()
	o.failures[rec.ID]++
	count := o.failures[rec.ID]
	o.failMu.Unlock()

	log.Error().
		Str("conversation", rec.ID).
		Int("consecutive", count).
		Err(perr).
		Msg("All generation providers failed")

	if count >= maxProviderFailures {
		return o.escalate(ctx, rec, policy, "generation providers unavailable", degradedReply)
	}

	rec.AppendTurn(models.Turn{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   degradedReply,
		Timestamp: time.Now().UTC(),
	})
	if err := o.store.Save(ctx, rec); err != nil {
		return err
	}
	o.deliver(ctx, rec, degradedReply, agent.EscalationDecision{})
	return nil
}

// escalate forces the conversation to ESCALATED, persists, and notifies.
func (o *Orchestrator) escalate(ctx context.Context, rec *models.ConversationRecord, policy *models.TenantPolicy, reason, reply string) error {
	o.applyTransition(rec, "", true)

	if reply == "" {
		reply = "I'm connecting you with a member of our team who can help further."
	}
	rec.AppendTurn(models.Turn{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now().UTC(),
	})
	if err := o.store.Save(ctx, rec); err != nil {
		return err
	}
	o.deliver(ctx, rec, reply, agent.EscalationDecision{Escalate: true, Reason: reason})
	o.emitEvents(rec, &models.AgentResponse{Message: reply, ShouldEscalate: true, EscalationReason: reason})
	return nil
}

func (o *Orchestrator) applyTransition(rec *models.ConversationRecord, intent string, escalate bool) {
	target := statemachine.ResolveTargetState(rec.State, intent, escalate)
	result := statemachine.Transition(rec.ID, rec.State, target, intent)
	rec.State = result.NewState
}

func (o *Orchestrator) mergeMemory(rec *models.ConversationRecord, resp *models.AgentResponse) {
	if rec.Memory == nil {
		rec.Memory = make(map[string]string)
	}
	for k, v := range resp.ExtractedFields {
		if v != "" {
			rec.Memory[k] = v
		}
	}
	if s := resp.Signals; s != nil {
		for k, v := range s.Entities {
			if v != "" {
				rec.Memory[k] = v
			}
		}
	}
}

// syncTicket applies the pass's ticket update best-effort.
func (o *Orchestrator) syncTicket(ctx context.Context, rec *models.ConversationRecord, resp *models.AgentResponse) {
	if o.tickets == nil || resp.TicketUpdate == nil {
		return
	}

	if rec.TicketID == "" {
		subject := resp.TicketUpdate.Subject
		if subject == "" {
			subject = "Conversation " + rec.ID
		}
		ticket, err := o.tickets.CreateTicket(ctx, &models.Ticket{
			ConversationID: rec.ID,
			Subject:        subject,
			Status:         resp.TicketUpdate.Status,
			Priority:       resp.TicketUpdate.Priority,
			Fields:         resp.TicketUpdate.Fields,
		})
		if err != nil {
			log.Warn().Str("conversation", rec.ID).Err(err).Msg("Ticket create failed")
			return
		}
		rec.TicketID = ticket.ID
		return
	}

	if err := o.tickets.UpdateTicket(ctx, rec.TicketID, resp.TicketUpdate); err != nil {
		log.Warn().Str("conversation", rec.ID).Str("ticket", rec.TicketID).Err(err).Msg("Ticket update failed")
	}
}

// deliver sends the reply on the conversation's channel and, on
// escalation, the human-handoff notice. Delivery failures are logged.
func (o *Orchestrator) deliver(ctx context.Context, rec *models.ConversationRecord, reply string, decision agent.EscalationDecision) {
	adapter := o.channels.Get(rec.Channel)
	if adapter == nil {
		log.Warn().Str("conversation", rec.ID).Str("channel", string(rec.Channel)).Msg("No adapter for channel, reply not delivered")
		return
	}

	if err := adapter.SendMessage(ctx, rec.ID, reply); err != nil {
		log.Warn().Str("conversation", rec.ID).Err(err).Msg("Reply delivery failed")
	}
	if decision.Escalate {
		if err := adapter.EscalateToHuman(ctx, rec.ID, decision.Reason); err != nil {
			log.Warn().Str("conversation", rec.ID).Err(err).Msg("Escalation notice failed")
		}
	}
}

// emitEvents hands downstream events to the collector without blocking.
func (o *Orchestrator) emitEvents(rec *models.ConversationRecord, resp *models.AgentResponse) {
	if o.events == nil {
		return
	}
	now := time.Now().UTC()

	o.events.Collect(context.Background(), models.OutboundEvent{
		Kind:           models.EventSessionIndex,
		TenantID:       rec.TenantID,
		ConversationID: rec.ID,
		Payload: map[string]any{
			"state":      string(rec.State),
			"intent":     resp.Intent,
			"turn_count": rec.TurnCount,
		},
		Timestamp: now,
	})

	o.events.Collect(context.Background(), models.OutboundEvent{
		Kind:           models.EventLearningSample,
		TenantID:       rec.TenantID,
		ConversationID: rec.ID,
		Payload: map[string]any{
			"reply":     resp.Message,
			"intent":    resp.Intent,
			"escalated": resp.ShouldEscalate,
		},
		Timestamp: now,
	})

	if rec.TicketID != "" {
		o.events.Collect(context.Background(), models.OutboundEvent{
			Kind:           models.EventTicketSync,
			TenantID:       rec.TenantID,
			ConversationID: rec.ID,
			Payload:        map[string]any{"ticket_id": rec.TicketID},
			Timestamp:      now,
		})
	}
}

func (o *Orchestrator) conversationLock(conversationID string) *sync.Mutex {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	lock, ok := o.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[conversationID] = lock
	}
	return lock
}

func (o *Orchestrator) resetFailures(conversationID string) {
	o.failMu.Lock()
	delete(o.failures, conversationID)
	o.failMu.Unlock()
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
