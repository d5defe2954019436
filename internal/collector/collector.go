// Package collector fans outbound events (session indexing, learning
// samples, ticket sync) out to downstream sinks from background workers.
// The reply path hands events off without blocking; a full buffer drops
// the event with a log line rather than stalling a conversation.
package collector

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// Sink consumes events of one kind.
type Sink interface {
	Name() string
	Consume(ctx context.Context, event models.OutboundEvent) error
}

// Service drains the event buffer with a fixed worker pool.
type Service struct {
	events chan models.OutboundEvent
	sinks  map[models.OutboundEventKind][]Sink
	sinkMu sync.RWMutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

var _ contracts.Collector = (*Service)(nil)

// NewService creates a collector with the given worker count and buffer.
func NewService(workers, bufferSize int) *Service {
	if workers <= 0 {
		workers = 2
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		events: make(chan models.OutboundEvent, bufferSize),
		sinks:  make(map[models.OutboundEventKind][]Sink),
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return s
}

// RegisterSink subscribes a sink to an event kind.
func (s *Service) RegisterSink(kind models.OutboundEventKind, sink Sink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sinks[kind] = append(s.sinks[kind], sink)
	log.Info().Str("kind", string(kind)).Str("sink", sink.Name()).Msg("Registered collector sink")
}

// Collect enqueues an event without blocking. When the buffer is full the
// event is dropped and logged; downstream indexing is best-effort.
func (s *Service) Collect(ctx context.Context, event models.OutboundEvent) error {
	select {
	case s.events <- event:
		return nil
	default:
		log.Warn().
			Str("kind", string(event.Kind)).
			Str("conversation", event.ConversationID).
			Msg("Collector buffer full, dropping event")
		return nil
	}
}

// Shutdown stops the workers after draining buffered events.
func (s *Service) Shutdown() {
	s.once.Do(func() {
		close(s.events)
		s.wg.Wait()
		s.cancel()
	})
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for event := range s.events {
		s.dispatch(ctx, event)
	}
}

func (s *Service) dispatch(ctx context.Context, event models.OutboundEvent) {
	s.sinkMu.RLock()
	sinks := s.sinks[event.Kind]
	s.sinkMu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Consume(ctx, event); err != nil {
			log.Warn().
				Str("sink", sink.Name()).
				Str("kind", string(event.Kind)).
				Str("conversation", event.ConversationID).
				Err(err).
				Msg("Collector sink failed")
		}
	}
}
