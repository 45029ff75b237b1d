package gateway

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RPCRequest represents a JSON-RPC 2.0 request.
type RPCRequest struct {
	ID      string                 `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
	JSONRPC string                 `json:"jsonrpc"`
}

// RPCResponse represents a JSON-RPC 2.0 response.
type RPCResponse struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return e.Message
}

// RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// TextPart is one text segment of an A2A message.
type TextPart struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// ReplyMessage is the agent's half of a conversational turn.
type ReplyMessage struct {
	MessageID string     `json:"messageId"`
	Role      string     `json:"role"`
	Parts     []TextPart `json:"parts"`
	ContextID string     `json:"contextId"`
}

// Reply is the result payload of a message/send call.
type Reply struct {
	ContextID string       `json:"contextId"`
	TaskID    string       `json:"taskId"`
	Message   ReplyMessage `json:"message"`
}

// NewReply builds the response envelope for one agent reply.
func NewReply(contextID, text string) Reply {
	messageID, _ := gonanoid.New()
	return Reply{
		ContextID: contextID,
		TaskID:    uuid.New().String(),
		Message: ReplyMessage{
			MessageID: messageID,
			Role:      "agent",
			Parts:     []TextPart{{Kind: "text", Text: text}},
			ContextID: contextID,
		},
	}
}
