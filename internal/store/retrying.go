package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// RetryingStore decorates a ConversationStore with bounded Save retries
// and a consecutive-failure counter surfaced to the readiness endpoint.
// A conversation turn is never dropped silently: if every retry fails the
// error still reaches the caller, and Healthy flips false until a save
// succeeds again.
type RetryingStore struct {
	inner        contracts.ConversationStore
	maxRetries   uint64
	initialDelay time.Duration

	consecutiveFailures atomic.Int64
}

var _ contracts.ConversationStore = (*RetryingStore)(nil)

// NewRetryingStore wraps inner with up to maxRetries save retries.
func NewRetryingStore(inner contracts.ConversationStore, maxRetries int, initialDelay time.Duration) *RetryingStore {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialDelay <= 0 {
		initialDelay = 100 * time.Millisecond
	}
	return &RetryingStore{
		inner:        inner,
		maxRetries:   uint64(maxRetries),
		initialDelay: initialDelay,
	}
}

// Get passes through without retry; a miss is cheap to re-create upstream.
func (s *RetryingStore) Get(ctx context.Context, conversationID string) (*models.ConversationRecord, error) {
	return s.inner.Get(ctx, conversationID)
}

// Save retries with exponential backoff before surfacing the failure.
func (s *RetryingStore) Save(ctx context.Context, record *models.ConversationRecord) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialDelay
	policy.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	err := backoff.Retry(func() error {
		if serr := s.inner.Save(ctx, record); serr != nil {
			log.Warn().Str("conversation", record.ID).Err(serr).Msg("Conversation save failed, retrying")
			return serr
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))

	if err != nil {
		failures := s.consecutiveFailures.Add(1)
		log.Error().
			Str("conversation", record.ID).
			Int64("consecutive_failures", failures).
			Err(err).
			Msg("Conversation save exhausted retries")
		return &models.PersistenceError{ConversationID: record.ID, Op: "save", Err: err}
	}

	s.consecutiveFailures.Store(0)
	return nil
}

// Ping passes through.
func (s *RetryingStore) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

// Close passes through.
func (s *RetryingStore) Close() error { return s.inner.Close() }

// Healthy reports whether the last save round-trip succeeded. Readiness
// uses this to drain traffic when persistence is down.
func (s *RetryingStore) Healthy() bool {
	return s.consecutiveFailures.Load() == 0
}
