// Package server provides the public entry point for initializing the
// Deskwing runtime.
//
// This package exists in pkg/ (not internal/) so embedders can compose
// the runtime with their own tools and channel adapters before serving:
//
//	srv, err := server.New(ctx)
//	srv.Tools.Register(&models.ToolDefinition{...})
//	srv.Channels.Register(models.ChannelWhatsApp, myAdapter)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/internal/agent"
	"github.com/deskwing/deskwing/internal/api"
	"github.com/deskwing/deskwing/internal/channels"
	"github.com/deskwing/deskwing/internal/collector"
	"github.com/deskwing/deskwing/internal/config"
	"github.com/deskwing/deskwing/internal/dedupe"
	"github.com/deskwing/deskwing/internal/orchestrator"
	modelrouter "github.com/deskwing/deskwing/internal/router"
	"github.com/deskwing/deskwing/internal/store"
	"github.com/deskwing/deskwing/internal/telemetry"
	"github.com/deskwing/deskwing/internal/ticketing"
	"github.com/deskwing/deskwing/internal/tools"
	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// Server holds the initialized Deskwing runtime.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Tools is the tool registry; embedders register their tools here
	// before serving.
	Tools *tools.Registry

	// Channels is the outbound adapter registry.
	Channels *channels.Registry

	// Store is the conversation store.
	Store contracts.ConversationStore

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry and drain the collector.
	ShutdownFunc func(context.Context) error
}

// New initializes the runtime from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the runtime with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	otelShutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Conversation store: Postgres when configured, in-memory otherwise.
	var base contracts.ConversationStore
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		base = pg
	} else {
		base = store.NewMemoryStore()
		log.Info().Msg("✅ In-memory conversation store initialized")
	}
	convStore := store.NewRetryingStore(base, 3, 100*time.Millisecond)

	// Tenant policies.
	tenants := config.NewTenantRegistry()
	if _, err := os.Stat(cfg.Tenants.PolicyPath); err == nil {
		if err := tenants.Reload(cfg.Tenants.PolicyPath); err != nil {
			return nil, fmt.Errorf("load tenant policies: %w", err)
		}
	} else {
		log.Warn().Str("path", cfg.Tenants.PolicyPath).Msg("Tenant policy file not found, using defaults for every tenant")
	}

	// Generation providers + router.
	var providers []models.Provider
	if _, err := os.Stat(cfg.Routing.ProvidersPath); err == nil {
		providers, err = config.LoadProviders(cfg.Routing.ProvidersPath)
		if err != nil {
			return nil, fmt.Errorf("load providers: %w", err)
		}
	} else {
		log.Warn().Str("path", cfg.Routing.ProvidersPath).Msg("Provider file not found, router starts empty")
	}
	mr := modelrouter.NewModelRouter(cfg.Routing.RoutingConfig(), providers)
	log.Info().Int("providers", len(providers)).Msg("✅ Model Router initialized")

	// Tool registry + runtime.
	registry := tools.NewRegistry()
	runtime := tools.NewRuntime(registry)
	log.Info().Msg("✅ Tool Runtime initialized")

	// Channel adapters; embedders register theirs on Server.Channels.
	chReg := channels.NewRegistry()

	// Ticketing is optional.
	var tickets contracts.Ticketing
	if url := os.Getenv("TICKETING_URL"); url != "" {
		tickets = ticketing.NewClient(url, ticketingAuthFromEnv(), nil)
		log.Info().Str("url", url).Msg("✅ Ticketing client initialized")
	}

	// Collector workers for downstream events.
	events := collector.NewService(cfg.Collector.Workers, cfg.Collector.BufferSize)
	log.Info().Int("workers", cfg.Collector.Workers).Msg("✅ Collector initialized")

	orch := orchestrator.New(convStore, agent.NewCore(mr), runtime, chReg, tickets, events, tenants)

	h := api.NewHandlers(cfg, orch, dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxEntries), mr, registry, convStore)
	router := api.NewRouter(cfg, h)

	shutdown := func(ctx context.Context) error {
		events.Shutdown()
		return otelShutdown(ctx)
	}

	return &Server{
		Handler:      router,
		Tools:        registry,
		Channels:     chReg,
		Store:        convStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func ticketingAuthFromEnv() map[string]any {
	if token := os.Getenv("TICKETING_TOKEN"); token != "" {
		return map[string]any{"type": "bearer", "token": token}
	}
	return nil
}
