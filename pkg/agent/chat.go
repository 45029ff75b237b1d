package agent

import (
	"context"
	"sync"

	"github.com/dita/anygate/pkg/model"
)

// ChatConfig configures a ChatHandle.
type ChatConfig struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// DefaultChatConfig returns default chat handle configuration.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 4096,
	}
}

// ChatHandle is a Handle backed by an LLM provider. It keeps the full
// conversation history in memory, which is exactly the mutable state the
// isolation layer must keep from bleeding across conversations.
//
// ChatHandle is safe for concurrent Invoke calls; turns on the same handle
// are serialized.
type ChatHandle struct {
	provider model.Provider
	config   ChatConfig

	mu      sync.Mutex
	history []model.Message
}

// NewChatHandle creates a chat handle over the given provider.
func NewChatHandle(provider model.Provider, config ChatConfig) *ChatHandle {
	if config.Model == "" {
		config = DefaultChatConfig()
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultChatConfig().MaxTokens
	}
	return &ChatHandle{
		provider: provider,
		config:   config,
	}
}

// ChatFactory returns a Factory producing isolated chat handles that share
// the provider client but nothing else.
func ChatFactory(provider model.Provider, config ChatConfig) Factory {
	return func() (Handle, error) {
		return NewChatHandle(provider, config), nil
	}
}

// Invoke appends the user turn to the history, calls the provider, and
// appends the assistant reply. A failed provider call still records the user
// turn: the attempt happened and the next turn should see it.
func (h *ChatHandle) Invoke(ctx context.Context, text string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, model.Message{Role: "user", Content: text})

	response, err := h.provider.Call(ctx, model.Request{
		Model:        h.config.Model,
		SystemPrompt: h.config.SystemPrompt,
		Messages:     h.history,
		MaxTokens:    h.config.MaxTokens,
		Temperature:  h.config.Temperature,
	})
	if err != nil {
		return "", err
	}

	h.history = append(h.history, model.Message{Role: "assistant", Content: response.Content})
	return response.Content, nil
}

// History returns a copy of the conversation so far.
func (h *ChatHandle) History() []model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]model.Message, len(h.history))
	copy(out, h.history)
	return out
}
