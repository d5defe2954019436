package tools

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// DefaultToolTimeout bounds a handler call when its definition sets none.
const DefaultToolTimeout = 15 * time.Second

// DefaultRetryDelay is the pause before the single transient retry when
// the definition sets none.
const DefaultRetryDelay = 500 * time.Millisecond

// Runtime executes tool calls against the registry with dedup, caching,
// rate limiting, and retry.
type Runtime struct {
	registry *Registry
	cache    contracts.Cache
	limiter  contracts.RateLimiter
	inflight singleflight.Group
}

// RuntimeOption mutates Runtime construction.
type RuntimeOption func(*Runtime)

// WithCache replaces the default LRU result cache.
func WithCache(c contracts.Cache) RuntimeOption {
	return func(rt *Runtime) { rt.cache = c }
}

// WithRateLimiter replaces the default keyed limiter.
func WithRateLimiter(l contracts.RateLimiter) RuntimeOption {
	return func(rt *Runtime) { rt.limiter = l }
}

// NewRuntime creates a tool runtime over the registry.
func NewRuntime(registry *Registry, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		registry: registry,
		cache:    NewLRUCache(DefaultCacheSize),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.limiter == nil {
		limiter := NewKeyedLimiter()
		for _, name := range registry.ListTools() {
			if def := registry.Get(name); def != nil && def.RatePerMinute > 0 {
				limiter.SetLimit(name, def.RatePerMinute)
			}
		}
		rt.limiter = limiter
	}
	return rt
}

// Execute runs every tool call from one agent pass and returns one
// result per call, in call order. Individual failures never abort the
// batch; each call gets a uniform result with a classified error kind.
func (rt *Runtime) Execute(ctx context.Context, tenant *models.TenantPolicy, channel models.Channel, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	for i, call := range calls {
		results[i] = rt.executeOne(ctx, tenant, channel, call)
	}
	return results
}

// executeOne runs a single tool call through the full policy chain.
func (rt *Runtime) executeOne(ctx context.Context, tenant *models.TenantPolicy, channel models.Channel, call models.ToolCall) models.ToolResult {
	def := rt.registry.Get(call.Name)
	if def == nil {
		return failure(call.Name, models.ToolErrorUnknownTool, "tool not registered", 0)
	}

	if !def.AllowsChannel(channel) {
		return failure(call.Name, models.ToolErrorAuth, "tool not available on channel "+string(channel), 0)
	}
	if tenant != nil && !tenant.ToolEnabled(call.Name) {
		return failure(call.Name, models.ToolErrorAuth, "tool not enabled for tenant "+tenant.TenantID, 0)
	}

	if err := validateArgs(def, call.Arguments); err != nil {
		return failure(call.Name, models.ToolErrorValidation, err.Error(), 0)
	}

	tenantID := ""
	if tenant != nil {
		tenantID = tenant.TenantID
	}
	key := canonicalKey(tenantID, def.Name, def.Version, call.Arguments)

	if def.Cacheable {
		if data, ok := rt.cache.Get(key); ok {
			return models.ToolResult{Name: call.Name, Success: true, Data: data, Cached: true}
		}
	}

	if allowed, retryAfter := rt.limiter.Check(def.Name); !allowed {
		return failure(call.Name, models.ToolErrorRateLimited, "rate limit exceeded", retryAfter.Milliseconds())
	}

	// Identical concurrent calls collapse onto one handler execution.
	data, err, _ := rt.inflight.Do(key, func() (any, error) {
		return rt.invoke(ctx, def, call.Arguments)
	})
	if err != nil {
		return classify(call.Name, err)
	}

	resultData, _ := data.(map[string]any)
	if def.Cacheable {
		ttl := def.CacheTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		rt.cache.Set(key, resultData, ttl)
	}
	return models.ToolResult{Name: call.Name, Success: true, Data: resultData}
}

// invoke runs the handler with its timeout and, for retryable tools, one
// retry on transient failure.
func (rt *Runtime) invoke(ctx context.Context, def *models.ToolDefinition, args map[string]any) (map[string]any, error) {
	attempt := func() (map[string]any, error) {
		timeout := def.Timeout
		if timeout <= 0 {
			timeout = DefaultToolTimeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		data, err := def.Handler(callCtx, args)
		if err == nil && callCtx.Err() == context.DeadlineExceeded {
			err = models.Transient(def.Name, context.DeadlineExceeded)
		}
		return data, err
	}

	if !def.Retryable {
		return attempt()
	}

	delay := def.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	var data map[string]any
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), 1), ctx)
	err := backoff.Retry(func() error {
		var aerr error
		data, aerr = attempt()
		if aerr != nil && !isTransient(aerr) {
			return backoff.Permanent(aerr)
		}
		if aerr != nil {
			log.Debug().Str("tool", def.Name).Dur("delay", delay).Err(aerr).Msg("Transient tool failure")
		}
		return aerr
	}, policy)
	return data, err
}

func isTransient(err error) bool {
	var te *models.ToolExecutionError
	if errors.As(err, &te) {
		return te.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classify maps a handler error into the uniform failure result.
func classify(name string, err error) models.ToolResult {
	var (
		ve *models.ValidationError
		ae *models.AuthError
		re *models.RateLimitError
	)
	switch {
	case errors.As(err, &ve):
		return failure(name, models.ToolErrorValidation, err.Error(), 0)
	case errors.As(err, &ae):
		return failure(name, models.ToolErrorAuth, err.Error(), 0)
	case errors.As(err, &re):
		return failure(name, models.ToolErrorRateLimited, err.Error(), re.RetryAfter.Milliseconds())
	case errors.Is(err, context.DeadlineExceeded):
		return failure(name, models.ToolErrorTimeout, "tool call timed out", 0)
	default:
		return failure(name, models.ToolErrorExecution, err.Error(), 0)
	}
}

func failure(name string, kind models.ToolErrorKind, msg string, retryAfterMs int64) models.ToolResult {
	log.Warn().Str("tool", name).Str("kind", string(kind)).Str("error", msg).Msg("Tool call failed")
	return models.ToolResult{
		Name:         name,
		Success:      false,
		Error:        msg,
		ErrorKind:    kind,
		RetryAfterMs: retryAfterMs,
	}
}
