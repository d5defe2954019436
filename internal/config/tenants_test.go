package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deskwing/deskwing/internal/config"
	"github.com/deskwing/deskwing/pkg/models"
)

const policyYAML = `
defaults:
  prompt_version: v1
  escalation:
    max_clarifications: 3
    frustration_keywords: ["ridiculous", "lawyer"]
tenants:
  - tenant_id: acme
    enabled_tools: [order_lookup, shipment_track]
    prompt_version: v2
    channels:
      whatsapp:
        max_turns: 40
      web:
        max_turns: 0
        streaming_allowed: true
    escalation:
      max_clarifications: 2
      escalation_intents: [complaint]
  - tenant_id: globex
`

func writePolicies(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(policyYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTenants(t *testing.T) {
	reg, err := config.LoadTenants(writePolicies(t))
	if err != nil {
		t.Fatalf("LoadTenants() error = %v", err)
	}

	acme := reg.Policy("acme")
	if acme.PromptVersion != "v2" {
		t.Errorf("acme prompt version = %q, want v2", acme.PromptVersion)
	}
	if !acme.ToolEnabled("order_lookup") || acme.ToolEnabled("refund_issue") {
		t.Error("acme enabled_tools allow-list not applied")
	}
	if got := acme.ChannelPolicyFor(models.ChannelWhatsApp).MaxTurns; got != 40 {
		t.Errorf("acme whatsapp max_turns = %d, want 40", got)
	}
	if acme.Escalation.MaxClarifications != 2 {
		t.Errorf("acme max_clarifications = %d, want 2", acme.Escalation.MaxClarifications)
	}
	// Unset list fields inherit defaults.
	if len(acme.Escalation.FrustrationKeywords) != 2 {
		t.Errorf("acme frustration keywords = %v, want inherited defaults", acme.Escalation.FrustrationKeywords)
	}
}

func TestPolicy_DefaultsInherited(t *testing.T) {
	reg, err := config.LoadTenants(writePolicies(t))
	if err != nil {
		t.Fatalf("LoadTenants() error = %v", err)
	}

	globex := reg.Policy("globex")
	if globex.PromptVersion != "v1" {
		t.Errorf("globex prompt version = %q, want inherited v1", globex.PromptVersion)
	}
	if globex.Escalation.MaxClarifications != 3 {
		t.Errorf("globex max_clarifications = %d, want inherited 3", globex.Escalation.MaxClarifications)
	}
	if !globex.ToolEnabled("anything") {
		t.Error("empty enabled_tools must allow every tool")
	}
}

func TestPolicy_UnknownTenantGetsFallback(t *testing.T) {
	reg, err := config.LoadTenants(writePolicies(t))
	if err != nil {
		t.Fatalf("LoadTenants() error = %v", err)
	}

	p := reg.Policy("nonexistent")
	if p.TenantID != "nonexistent" {
		t.Errorf("fallback tenant id = %q", p.TenantID)
	}
	if p.Escalation.MaxClarifications != 3 {
		t.Errorf("fallback max_clarifications = %d, want 3", p.Escalation.MaxClarifications)
	}
	if reg.Known("nonexistent") {
		t.Error("Known() true for tenant without a policy row")
	}
	if !reg.Known("acme") {
		t.Error("Known() false for configured tenant")
	}
}

func TestLoadProviders(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-secret")

	path := filepath.Join(t.TempDir(), "providers.json")
	content := `[
		{"name": "openai-default", "kind": "openai", "model": "gpt-4o-mini", "config": {"api_key": "env:TEST_PROVIDER_KEY"}},
		{"name": "local", "kind": "ollama", "model": "llama3", "endpoint": "http://localhost:11434"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	providers, err := config.LoadProviders(path)
	if err != nil {
		t.Fatalf("LoadProviders() error = %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("len = %d, want 2", len(providers))
	}
	if got := providers[0].Config["api_key"]; got != "sk-secret" {
		t.Errorf("env indirection: api_key = %v, want resolved secret", got)
	}
}

func TestRoutingConfigConversion(t *testing.T) {
	env := config.RoutingEnvConfig{Primary: "a", Secondary: "b", Strategy: "abtest", SplitPercent: 30}
	rc := env.RoutingConfig()
	if rc.Strategy != models.StrategyABTest || rc.SplitPercent != 30 {
		t.Errorf("RoutingConfig() = %+v, want abtest/30", rc)
	}

	env.Strategy = "bogus"
	if env.RoutingConfig().Strategy != models.StrategyConfig {
		t.Error("unknown strategy did not fall back to config")
	}
}
