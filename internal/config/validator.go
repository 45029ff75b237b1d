package config

import (
	"fmt"

	"github.com/dita/anygate/pkg/agent"
	"github.com/dita/anygate/pkg/isolation"
)

// Validate checks a configuration for startup-blocking problems.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if _, err := agent.ParseFamily(cfg.Runtime.Family); err != nil {
		return fmt.Errorf("runtime.family: %w", err)
	}

	switch cfg.Runtime.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("runtime.provider must be \"anthropic\" or \"openai\", got %q", cfg.Runtime.Provider)
	}

	if cfg.Runtime.Model == "" {
		return fmt.Errorf("runtime.model is required")
	}

	if _, err := isolation.ParseStrategy(cfg.Isolation.Strategy); err != nil {
		return fmt.Errorf("isolation.strategy: %w", err)
	}

	if cfg.Isolation.IdleTTLMinutes < 0 {
		return fmt.Errorf("isolation.idleTtlMinutes cannot be negative")
	}

	if cfg.Card.Name == "" || cfg.Card.Version == "" {
		return fmt.Errorf("card.name and card.version are required")
	}

	return nil
}
