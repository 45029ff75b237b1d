package config

import (
	"github.com/dita/anygate/internal/logger"
)

// Config is the root daemon configuration.
type Config struct {
	DataDir   string          `json:"dataDir" mapstructure:"dataDir"`
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Runtime   RuntimeConfig   `json:"runtime" mapstructure:"runtime"`
	Isolation IsolationConfig `json:"isolation" mapstructure:"isolation"`
	Logging   logger.Config   `json:"logging" mapstructure:"logging"`
	Card      CardConfig      `json:"card" mapstructure:"card"`
}

// ServerConfig configures the gateway listener.
type ServerConfig struct {
	Port int `json:"port" mapstructure:"port"`
}

// RuntimeConfig configures the wrapped agent runtime.
type RuntimeConfig struct {
	Family       string  `json:"family" mapstructure:"family"`
	Provider     string  `json:"provider" mapstructure:"provider"`
	Model        string  `json:"model" mapstructure:"model"`
	SystemPrompt string  `json:"systemPrompt" mapstructure:"systemPrompt"`
	APIKey       string  `json:"apiKey" mapstructure:"apiKey"`
	MaxTokens    int     `json:"maxTokens" mapstructure:"maxTokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
}

// IsolationConfig configures the context isolation layer.
type IsolationConfig struct {
	// Strategy overrides classification: auto, native-session,
	// delegated-session, per-context.
	Strategy string `json:"strategy" mapstructure:"strategy"`

	// IdleTTLMinutes enables the idle-context reaper when > 0.
	IdleTTLMinutes      int `json:"idleTtlMinutes" mapstructure:"idleTtlMinutes"`
	ReapIntervalMinutes int `json:"reapIntervalMinutes" mapstructure:"reapIntervalMinutes"`
}

// CardConfig configures the served agent card.
type CardConfig struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
	URL         string `json:"url" mapstructure:"url"`
	Version     string `json:"version" mapstructure:"version"`
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Runtime: RuntimeConfig{
			Family:    "generic",
			Provider:  "anthropic",
			Model:     "claude-3-5-sonnet-20241022",
			MaxTokens: 4096,
		},
		Isolation: IsolationConfig{
			Strategy: "auto",
		},
		Logging: logger.DefaultConfig(),
		Card: CardConfig{
			Name:        "anygate",
			Description: "Context-isolated conversational agent",
			URL:         "http://localhost:8080",
			Version:     "0.1.0",
		},
	}
}
