// Package contracts defines the collaborator interfaces the runtime core
// depends on. Everything here is injected explicitly — the Orchestrator,
// Agent Core, and Tool Runtime hold no ambient global singletons, so tests
// and multiple runtime instances can supply their own implementations.
package contracts

import (
	"context"
	"time"

	"github.com/deskwing/deskwing/pkg/models"
)

// ── Conversation Persistence ────────────────────────────────

// ConversationStore persists conversation records. Get returns (nil, nil)
// when no record exists for the ID — absence is not an error.
type ConversationStore interface {
	Get(ctx context.Context, conversationID string) (*models.ConversationRecord, error)
	Save(ctx context.Context, record *models.ConversationRecord) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// ── Outbound Channel ────────────────────────────────────────

// ChannelAdapter is the outbound surface of one messaging channel.
// Implementations are thin transport wrappers; delivery is best-effort.
type ChannelAdapter interface {
	SendMessage(ctx context.Context, conversationID, text string) error
	SendTyping(ctx context.Context, conversationID string) error
	EscalateToHuman(ctx context.Context, conversationID, reason string) error
	AddTags(ctx context.Context, conversationID string, tags []string) error
	SetDepartment(ctx context.Context, conversationID, department string) error

	// SendRichMedia and SendTemplate are optional capabilities; adapters
	// for channels without them return an unsupported error.
	SendRichMedia(ctx context.Context, conversationID string, media models.Attachment) error
	SendTemplate(ctx context.Context, conversationID, templateID string, vars map[string]string) error
}

// ── Ticketing ───────────────────────────────────────────────

// Ticketing integrates with the external ticketing back-end.
type Ticketing interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, ticketID string, update *models.TicketUpdate) error
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTicketByConversation(ctx context.Context, conversationID string) (*models.Ticket, error)
}

// ── Tool Collaborators ──────────────────────────────────────

// Cache is a TTL-aware key-value cache used for tool results.
type Cache interface {
	Get(key string) (map[string]any, bool)
	Set(key string, value map[string]any, ttl time.Duration)
	Evict(key string)
}

// RateLimiter gates tool dispatch per key. Check returns whether the call
// is allowed and, if not, how long until the next permitted call.
type RateLimiter interface {
	Check(key string) (allowed bool, retryAfter time.Duration)
}

// Collector receives best-effort downstream events (session indexing,
// learning collection). Failures are logged, never propagated to the
// reply path.
type Collector interface {
	Collect(ctx context.Context, event models.OutboundEvent) error
}
