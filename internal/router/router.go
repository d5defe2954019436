// Package router implements the Deskwing Model Router.
//
// The router selects one of the configured generation providers per the
// routing strategy, sends the request through the provider's driver, and
// handles failover transparently. Two strategies exist:
//
//   - config: always call primary; on failure try secondary then tertiary
//     in order, returning the first success.
//   - abtest: split traffic between primary and secondary by a configured
//     percentage, keyed deterministically on the conversation ID so one
//     conversation always lands on the same provider within a
//     configuration epoch. No failover under abtest.
package router

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/deskwing/deskwing/pkg/models"
)

var tracer = otel.Tracer("deskwing-router")

// DefaultCallTimeout bounds one provider call when the request context
// carries no tighter deadline.
const DefaultCallTimeout = 60 * time.Second

// HealthProbeTimeout bounds one provider health probe.
const HealthProbeTimeout = 10 * time.Second

// Driver sends generation requests to one provider kind.
type Driver interface {
	Kind() string
	Call(ctx context.Context, provider *models.Provider, req *models.GenerateRequest) (*models.GenerateResponse, error)
	HealthCheck(ctx context.Context, provider *models.Provider) error
}

// ModelRouter routes generation requests to configured providers.
type ModelRouter struct {
	cfg       models.RoutingConfig
	providers map[string]*models.Provider

	drvMu   sync.RWMutex
	drivers map[string]Driver

	// Rolling latency per provider name (EMA, milliseconds).
	latencyMu sync.RWMutex
	latencies map[string]int64

	callTimeout time.Duration
}

// NewModelRouter creates a router over the given providers. Built-in
// drivers for openai, azure-openai, anthropic, and ollama are registered;
// RegisterDriver replaces or extends them.
func NewModelRouter(cfg models.RoutingConfig, providers []models.Provider) *ModelRouter {
	mr := &ModelRouter{
		cfg:         cfg,
		providers:   make(map[string]*models.Provider, len(providers)),
		drivers:     make(map[string]Driver),
		latencies:   make(map[string]int64),
		callTimeout: DefaultCallTimeout,
	}
	for i := range providers {
		p := providers[i]
		mr.providers[p.Name] = &p
	}

	client := &http.Client{Timeout: 120 * time.Second}
	mr.RegisterDriver(&openAIDriver{kind: "openai", client: client})
	mr.RegisterDriver(&openAIDriver{kind: "azure-openai", client: client})
	mr.RegisterDriver(&anthropicDriver{client: client})
	mr.RegisterDriver(&ollamaDriver{client: client})
	return mr
}

// RegisterDriver adds or replaces the driver for a provider kind.
func (mr *ModelRouter) RegisterDriver(d Driver) {
	mr.drvMu.Lock()
	defer mr.drvMu.Unlock()
	mr.drivers[d.Kind()] = d
}

// GetDriver returns the driver for a kind, or nil.
func (mr *ModelRouter) GetDriver(kind string) Driver {
	mr.drvMu.RLock()
	defer mr.drvMu.RUnlock()
	return mr.drivers[kind]
}

// ListDrivers returns the registered driver kinds.
func (mr *ModelRouter) ListDrivers() []string {
	mr.drvMu.RLock()
	defer mr.drvMu.RUnlock()
	kinds := make([]string, 0, len(mr.drivers))
	for k := range mr.drivers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Generate issues the request per the configured strategy. Under the
// config strategy later providers are attempted only after the earlier
// one fails; the first success is returned. If every configured provider
// fails, a *models.ProviderError carries the attempt count and last error.
func (mr *ModelRouter) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	chain := mr.chain(req.ConversationID)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no generation providers configured")
	}

	var lastErr error
	attempts := 0
	for _, name := range chain {
		provider, ok := mr.providers[name]
		if !ok {
			lastErr = fmt.Errorf("provider %q not configured", name)
			continue
		}
		driver := mr.GetDriver(provider.Kind)
		if driver == nil {
			lastErr = fmt.Errorf("no driver for provider kind %q", provider.Kind)
			continue
		}

		attempts++
		resp, err := mr.callProvider(ctx, driver, provider, req)
		if err != nil {
			log.Warn().
				Str("provider", provider.Name).
				Str("kind", provider.Kind).
				Str("request", req.RequestID).
				Err(err).
				Msg("Provider call failed, trying next")
			lastErr = err
			continue
		}
		return resp, nil
	}

	return nil, &models.ProviderError{Attempts: attempts, Last: lastErr}
}

// chain returns the ordered provider names to attempt for this request.
func (mr *ModelRouter) chain(conversationID string) []string {
	switch mr.cfg.Strategy {
	case models.StrategyABTest:
		// Deterministic split: the same conversation maps to the same
		// provider until the configuration epoch changes.
		if mr.cfg.Secondary != "" && bucket(conversationID) < mr.cfg.SplitPercent {
			return []string{mr.cfg.Secondary}
		}
		return []string{mr.cfg.Primary}
	default: // config
		chain := []string{mr.cfg.Primary}
		if mr.cfg.Secondary != "" {
			chain = append(chain, mr.cfg.Secondary)
		}
		if mr.cfg.Tertiary != "" {
			chain = append(chain, mr.cfg.Tertiary)
		}
		return chain
	}
}

// bucket hashes a routing key into [0,100).
func bucket(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % 100)
}

// callProvider runs one driver call with a timeout, a span, and latency
// tracking.
func (mr *ModelRouter) callProvider(ctx context.Context, d Driver, provider *models.Provider, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, mr.callTimeout)
	defer cancel()

	callCtx, span := tracer.Start(callCtx, "provider.generate",
		trace.WithAttributes(
			attribute.String("deskwing.provider", provider.Name),
			attribute.String("deskwing.provider.kind", provider.Kind),
			attribute.String("deskwing.model", provider.Model),
		))
	defer span.End()

	start := time.Now()
	resp, err := d.Call(callCtx, provider, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	latencyMs := time.Since(start).Milliseconds()
	resp.Provider = provider.Name
	resp.LatencyMs = latencyMs
	span.SetAttributes(attribute.Int64("deskwing.latency_ms", latencyMs))

	mr.latencyMu.Lock()
	prev := mr.latencies[provider.Name]
	if prev == 0 {
		mr.latencies[provider.Name] = latencyMs
	} else {
		// Exponential moving average
		mr.latencies[provider.Name] = (prev*7 + latencyMs*3) / 10
	}
	mr.latencyMu.Unlock()

	return resp, nil
}

// Latency returns the rolling average latency for a provider, 0 if unseen.
func (mr *ModelRouter) Latency(provider string) int64 {
	mr.latencyMu.RLock()
	defer mr.latencyMu.RUnlock()
	return mr.latencies[provider]
}

// HealthCheck probes every configured provider with its own timeout and
// returns a per-provider status map, used by the readiness endpoint.
func (mr *ModelRouter) HealthCheck(ctx context.Context) map[string]models.ProviderStatus {
	result := make(map[string]models.ProviderStatus, len(mr.providers))
	for name, provider := range mr.providers {
		status := models.ProviderStatus{Provider: name, Kind: provider.Kind}

		driver := mr.GetDriver(provider.Kind)
		if driver == nil {
			status.Error = fmt.Sprintf("no driver for kind %q", provider.Kind)
			result[name] = status
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, HealthProbeTimeout)
		start := time.Now()
		err := driver.HealthCheck(probeCtx, provider)
		cancel()

		status.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			status.Error = err.Error()
		} else {
			status.Healthy = true
		}
		result[name] = status
	}
	return result
}
