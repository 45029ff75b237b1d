package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// AgentCard is the discovery document served at /.well-known/agent.json.
type AgentCard struct {
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	URL                string           `json:"url"`
	Version            string           `json:"version"`
	Capabilities       CardCapabilities `json:"capabilities"`
	DefaultInputModes  []string         `json:"defaultInputModes"`
	DefaultOutputModes []string         `json:"defaultOutputModes"`
	Skills             []CardSkill      `json:"skills"`
}

// CardCapabilities advertises optional protocol features.
type CardCapabilities struct {
	Streaming bool `json:"streaming"`
}

// CardSkill describes one capability of the exposed agent.
type CardSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// cardSchema validates agent cards before they are served. Serving a
// malformed card breaks every downstream client's discovery, so validation
// failures are fatal at startup.
const cardSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "description", "url", "version", "capabilities"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string", "minLength": 1},
    "url": {"type": "string", "minLength": 1},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "capabilities": {
      "type": "object",
      "properties": {
        "streaming": {"type": "boolean"}
      }
    },
    "defaultInputModes": {"type": "array", "items": {"type": "string"}},
    "defaultOutputModes": {"type": "array", "items": {"type": "string"}},
    "skills": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

// DefaultCard returns a minimal valid card for the given listen URL.
func DefaultCard(name, description, url, version string) AgentCard {
	return AgentCard{
		Name:               name,
		Description:        description,
		URL:                url,
		Version:            version,
		Capabilities:       CardCapabilities{Streaming: false},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []CardSkill{
			{ID: "chat", Name: "Conversational chat", Tags: []string{"chat"}},
		},
	}
}

// Validate checks the card against the embedded schema.
func (c AgentCard) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal agent card: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(cardSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("agent card schema validation error: %w", err)
	}

	if !result.Valid() {
		var errMsg string
		for i, resultErr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += resultErr.String()
		}
		return fmt.Errorf("agent card schema validation errors: %s", errMsg)
	}

	return nil
}
