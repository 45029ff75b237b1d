package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dita/anygate/internal/observability"
	"github.com/dita/anygate/pkg/isolation"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const maxRequestBytes = 1 << 20 // 1 MiB

// MethodHandler handles one JSON-RPC method.
type MethodHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Server exposes the isolation manager over HTTP and WebSocket.
type Server struct {
	port    int
	manager *isolation.Manager
	card    AgentCard
	logger  zerolog.Logger

	methods  map[string]MethodHandler
	upgrader websocket.Upgrader

	server         *http.Server
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Port    int
	Manager *isolation.Manager
	Card    AgentCard
	Logger  zerolog.Logger
}

// NewServer creates a gateway server. The agent card is validated here so a
// malformed card never goes live.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("isolation manager is required")
	}
	if err := cfg.Card.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		port:    cfg.Port,
		manager: cfg.Manager,
		card:    cfg.Card,
		logger:  cfg.Logger.With().Str("component", "gateway").Logger(),
		methods: make(map[string]MethodHandler),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registerBuiltinMethods()

	return s, nil
}

// Handler returns the full route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start starts the gateway server without blocking.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Int("port", s.port).
		Str("strategy", s.manager.Strategy().String()).
		Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server failed")
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout waiting for in-flight requests")
	}

	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("Stopping gateway server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, errorResponse("", ParseError, "failed to read request body"))
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, errorResponse("", ParseError, "invalid JSON"))
		return
	}

	writeResponse(w, s.dispatchRequest(r.Context(), req))
}

// dispatchRequest routes one JSON-RPC request to its method handler and maps
// handler failures onto wire-level errors.
func (s *Server) dispatchRequest(ctx context.Context, req RPCRequest) RPCResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, InvalidRequest, "jsonrpc must be \"2.0\"")
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, MethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}

	start := time.Now()
	result, err := handler(ctx, req.Params)
	if err != nil {
		s.logger.Debug().
			Str("method", req.Method).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("RPC method failed")

		if rpcErr, ok := err.(*RPCError); ok {
			return RPCResponse{ID: req.ID, Error: rpcErr, JSONRPC: "2.0"}
		}
		return errorResponse(req.ID, InternalError, err.Error())
	}

	return RPCResponse{ID: req.ID, Result: result, JSONRPC: "2.0"}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID, _ := gonanoid.New()
	observability.AddWSClient(1)
	defer observability.AddWSClient(-1)

	s.logger.Info().Str("client_id", clientID).Msg("WebSocket client connected")
	defer s.logger.Info().Str("client_id", clientID).Msg("WebSocket client disconnected")

	for {
		var req RPCRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Str("client_id", clientID).Err(err).Msg("WebSocket read failed")
			}
			return
		}

		if err := conn.WriteJSON(s.dispatchRequest(r.Context(), req)); err != nil {
			s.logger.Debug().Str("client_id", clientID).Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}

func writeResponse(w http.ResponseWriter, resp RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func errorResponse(id string, code int, message string) RPCResponse {
	return RPCResponse{
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
		JSONRPC: "2.0",
	}
}
