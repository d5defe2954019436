package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/internal/api/middleware"
	"github.com/deskwing/deskwing/internal/config"
	"github.com/deskwing/deskwing/internal/dedupe"
	"github.com/deskwing/deskwing/internal/orchestrator"
	"github.com/deskwing/deskwing/internal/router"
	"github.com/deskwing/deskwing/internal/store"
	"github.com/deskwing/deskwing/internal/tools"
	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// pipelineTimeout bounds one detached pipeline run.
const pipelineTimeout = 2 * time.Minute

// Handlers carries the API's collaborators.
type Handlers struct {
	cfg      *config.Config
	orch     *orchestrator.Orchestrator
	deduper  *dedupe.Deduper
	router   *router.ModelRouter
	registry *tools.Registry
	store    contracts.ConversationStore
}

// NewHandlers creates the handler set.
func NewHandlers(cfg *config.Config, orch *orchestrator.Orchestrator, deduper *dedupe.Deduper, mr *router.ModelRouter, registry *tools.Registry, st contracts.ConversationStore) *Handlers {
	return &Handlers{cfg: cfg, orch: orch, deduper: deduper, router: mr, registry: registry, store: st}
}

// IngestMessage accepts one inbound message, deduplicates it, and runs
// the pipeline detached. The channel gets a 202 immediately; the reply
// travels back over the channel adapter, not this response.
func (h *Handlers) IngestMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg.ConversationID == "" || msg.Message.Text == "" || msg.Channel == "" {
		respondError(w, http.StatusBadRequest, "channel, conversation_id, and message.text are required")
		return
	}
	if msg.TenantID == "" {
		msg.TenantID = middleware.GetTenantID(r.Context())
	}

	// Fingerprint before defaulting the timestamp: redeliveries that omit
	// one must still collapse to a single fingerprint.
	fp := dedupe.Fingerprint(&msg)
	if !h.deduper.CheckAndMark(fp) {
		log.Debug().
			Str("conversation", msg.ConversationID).
			Str("channel", string(msg.Channel)).
			Msg("Duplicate delivery dropped")
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate"})
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
		defer cancel()
		if err := h.orch.HandleMessage(ctx, &msg); err != nil {
			log.Error().
				Str("conversation", msg.ConversationID).
				Err(err).
				Msg("Pipeline run failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GetConversation returns the stored conversation record.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	rec, err := h.orch.GetConversation(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// RecordCSAT stores a satisfaction rating on a resolved conversation.
func (h *Handlers) RecordCSAT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var body struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.orch.RecordCSAT(r.Context(), id, body.Rating); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// ListTools returns the registered tool names.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tools": h.registry.ListTools()})
}

// ProviderHealth probes every configured provider.
func (h *Handlers) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.router.HealthCheck(r.Context()))
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "deskwing-runtime",
	})
}

// Version reports the running version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.cfg.Version,
		"service": "deskwing-runtime",
	})
}

// Ready is the readiness probe: store reachable, saves succeeding, and at
// least one healthy generation provider.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	} else {
		checks["store"] = "ok"
	}

	if rs, ok := h.store.(*store.RetryingStore); ok && !rs.Healthy() {
		checks["persistence"] = "saves failing"
		ready = false
	} else {
		checks["persistence"] = "ok"
	}

	statuses := h.router.HealthCheck(ctx)
	healthyProviders := 0
	for _, s := range statuses {
		if s.Healthy {
			healthyProviders++
		}
	}
	if healthyProviders == 0 {
		checks["providers"] = "no healthy provider"
		ready = false
	} else {
		checks["providers"] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
