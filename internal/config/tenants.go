package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/deskwing/deskwing/pkg/models"
)

// TenantRegistry holds the per-tenant policies loaded from the YAML policy
// file. Policies are read-only after load; Reload swaps the whole set.
type TenantRegistry struct {
	mu       sync.RWMutex
	policies map[string]*models.TenantPolicy
	fallback models.TenantPolicy
}

type tenantFile struct {
	Defaults models.TenantPolicy   `yaml:"defaults"`
	Tenants  []models.TenantPolicy `yaml:"tenants"`
}

// NewTenantRegistry returns a registry with no tenants and a permissive
// default policy.
func NewTenantRegistry() *TenantRegistry {
	return &TenantRegistry{
		policies: make(map[string]*models.TenantPolicy),
		fallback: models.TenantPolicy{
			Escalation: models.EscalationPolicy{MaxClarifications: 3},
		},
	}
}

// LoadTenants reads the policy file and returns a populated registry.
func LoadTenants(path string) (*TenantRegistry, error) {
	r := NewTenantRegistry()
	if err := r.Reload(path); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the registry's policy set from the YAML file.
func (r *TenantRegistry) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tenant policies: %w", err)
	}

	var f tenantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse tenant policies: %w", err)
	}

	policies := make(map[string]*models.TenantPolicy, len(f.Tenants))
	for i := range f.Tenants {
		p := f.Tenants[i]
		if p.TenantID == "" {
			log.Warn().Int("index", i).Msg("Tenant policy without tenant_id skipped")
			continue
		}
		if p.Escalation.MaxClarifications == 0 {
			p.Escalation.MaxClarifications = f.Defaults.Escalation.MaxClarifications
		}
		if len(p.Escalation.FrustrationKeywords) == 0 {
			p.Escalation.FrustrationKeywords = f.Defaults.Escalation.FrustrationKeywords
		}
		if len(p.Escalation.EscalationIntents) == 0 {
			p.Escalation.EscalationIntents = f.Defaults.Escalation.EscalationIntents
		}
		if p.PromptVersion == "" {
			p.PromptVersion = f.Defaults.PromptVersion
		}
		policies[p.TenantID] = &p
	}

	r.mu.Lock()
	r.policies = policies
	if f.Defaults.Escalation.MaxClarifications > 0 {
		r.fallback = f.Defaults
	}
	r.mu.Unlock()

	log.Info().Int("tenants", len(policies)).Str("path", path).Msg("Tenant policies loaded")
	return nil
}

// Policy returns the policy for a tenant. Unknown tenants receive the
// file's defaults so a missing row never blocks traffic.
func (r *TenantRegistry) Policy(tenantID string) *models.TenantPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[tenantID]; ok {
		return p
	}
	fb := r.fallback
	fb.TenantID = tenantID
	return &fb
}

// Known reports whether the tenant has an explicit policy row.
func (r *TenantRegistry) Known(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.policies[tenantID]
	return ok
}
