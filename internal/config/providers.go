package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/deskwing/deskwing/pkg/models"
)

// LoadProviders reads the provider definitions JSON file. API keys may be
// given literally or via an env indirection ("env:OPENAI_API_KEY").
func LoadProviders(path string) ([]models.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers: %w", err)
	}

	var providers []models.Provider
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parse providers: %w", err)
	}

	for i := range providers {
		p := &providers[i]
		if p.Name == "" || p.Kind == "" {
			return nil, fmt.Errorf("provider %d: name and kind required", i)
		}
		if key, ok := p.Config["api_key"].(string); ok && len(key) > 4 && key[:4] == "env:" {
			p.Config["api_key"] = os.Getenv(key[4:])
		}
	}
	return providers, nil
}

// RoutingConfig converts the env-level routing settings into the router's
// configuration type.
func (r RoutingEnvConfig) RoutingConfig() models.RoutingConfig {
	strategy := models.StrategyConfig
	if r.Strategy == string(models.StrategyABTest) {
		strategy = models.StrategyABTest
	}
	return models.RoutingConfig{
		Primary:      r.Primary,
		Secondary:    r.Secondary,
		Tertiary:     r.Tertiary,
		Strategy:     strategy,
		SplitPercent: r.SplitPercent,
	}
}
