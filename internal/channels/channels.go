// Package channels implements the outbound channel surface: a registry of
// per-channel adapters and the built-in webhook adapter that delivers
// replies, typing indicators, and escalation notices to channel back-ends
// over signed HTTP callbacks.
package channels

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// Registry maps channels to their outbound adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Channel]contracts.ChannelAdapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Channel]contracts.ChannelAdapter)}
}

// Register adds or replaces the adapter for a channel.
func (r *Registry) Register(ch models.Channel, adapter contracts.ChannelAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[ch] = adapter
	log.Info().Str("channel", string(ch)).Msg("Registered channel adapter")
}

// Get returns the adapter for a channel, or nil.
func (r *Registry) Get(ch models.Channel) contracts.ChannelAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[ch]
}

// List returns the registered channels.
func (r *Registry) List() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chs := make([]models.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		chs = append(chs, ch)
	}
	return chs
}
