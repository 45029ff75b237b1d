package gateway

import (
	"context"
	"fmt"

	"github.com/dita/anygate/pkg/isolation"
)

// registerBuiltinMethods registers all built-in RPC methods. message/send is
// the conversational path; the contexts/* methods are the administrative
// surface and are not part of the request path.
func (s *Server) registerBuiltinMethods() {
	s.methods["message/send"] = s.handleMessageSend
	s.methods["contexts/list"] = s.handleContextsList
	s.methods["contexts/stats"] = s.handleContextsStats
	s.methods["contexts/cleanup"] = s.handleContextsCleanup
}

// handleMessageSend extracts the context id and text from the A2A payload
// and routes the turn through the isolation manager. Dispatch failures
// surface as wire-level errors distinguishable from a normal reply; the
// gateway never retries.
func (s *Server) handleMessageSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	text, ok := ExtractText(params)
	if !ok {
		return nil, &RPCError{Code: InvalidParams, Message: "message text is required"}
	}

	contextID := ExtractContextID(params)
	if contextID == "" {
		contextID = isolation.DefaultContextID
	}

	reply, err := s.manager.Dispatch(ctx, contextID, text)
	if err != nil {
		return nil, fmt.Errorf("agent invocation failed: %w", err)
	}

	return NewReply(contextID, reply), nil
}

func (s *Server) handleContextsList(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"contexts": s.manager.ListContexts(),
	}, nil
}

func (s *Server) handleContextsStats(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return s.manager.Stats(), nil
}

func (s *Server) handleContextsCleanup(_ context.Context, params map[string]interface{}) (interface{}, error) {
	contextID, _ := params["contextId"].(string)
	if contextID == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "contextId parameter is required"}
	}

	return map[string]interface{}{
		"contextId": contextID,
		"removed":   s.manager.Cleanup(contextID),
	}, nil
}
