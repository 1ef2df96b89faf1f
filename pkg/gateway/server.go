package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Krish-357/Academic-Advisor/internal/observability"
	"github.com/Krish-357/Academic-Advisor/internal/tracing"
	"github.com/Krish-357/Academic-Advisor/pkg/orchestrator"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const (
	maxBodyBytes           = 1 << 20
	defaultShutdownTimeout = 10 * time.Second

	headerRequestID = "X-Request-ID"
	headerTraceID   = "X-Trace-Id"
)

// Handler answers one user query. *orchestrator.Orchestrator satisfies it.
type Handler interface {
	Handle(ctx context.Context, userID, text string, reqContext map[string]interface{}) (*orchestrator.AgentResponse, error)
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	Handler         Handler
	RateLimit       float64
	RateBurst       int
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// Server exposes the orchestrator over HTTP and websocket.
type Server struct {
	addr            string
	handler         Handler
	schema          *gojsonschema.Schema
	limiter         *UserRateLimiter
	clients         *ClientRegistry
	upgrader        websocket.Upgrader
	shutdownTimeout time.Duration
	logger          zerolog.Logger

	server         *http.Server
	listener       net.Listener
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a gateway server. Port 0 binds an ephemeral port on Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	schema, err := newQuerySchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile query schema: %w", err)
	}

	return &Server{
		addr:            net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		handler:         cfg.Handler,
		schema:          schema,
		limiter:         NewUserRateLimiter(cfg.RateLimit, cfg.RateBurst),
		clients:         NewClientRegistry(),
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Routes returns the HTTP handler with CORS and request id middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/chat", s.handleQuery)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/test", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"clients": s.clients.Count(),
		})
	})
	mux.Handle("/metrics", observability.MetricsHandler())

	return withCORS(withRequestID(mux))
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully stops the server, waiting up to the shutdown timeout for
// in-flight websocket queries.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, closing websocket clients")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// beginRequest registers an in-flight websocket query unless shutdown has
// started. Stop flips the flag under the write lock, so no Add can follow
// its Wait.
func (s *Server) beginRequest() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		return false
	}
	s.inFlightReqs.Add(1)
	return true
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Path
	if r.Method != http.MethodPost {
		s.fail(w, route, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.shuttingDown() {
		s.fail(w, route, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, route, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req QueryRequest
	if err := decodeQuery(s.schema, body, &req); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			s.fail(w, route, reqErr.Status, reqErr.Detail)
			return
		}
		s.fail(w, route, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if !s.limiter.Allow(req.UserID) {
		logger.Warn().Str("user_id", req.UserID).Msg("Gateway rate limit exceeded")
		s.fail(w, route, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	resp, err := s.handler.Handle(ctx, req.UserID, req.Message, req.Context)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("user_id", req.UserID).Msg("Query failed")
		}
		s.fail(w, route, status, err.Error())
		return
	}

	observability.RecordGatewayRequest(route, http.StatusOK)
	writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket upgrades the connection and serves query frames until the
// client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		clientID = tracing.NewTraceID()
	}
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleFrame(client, message)
	}
}

func (s *Server) handleFrame(client *Client, message []byte) {
	var frame InboundFrame
	if err := decodeQuery(s.schema, message, &frame); err != nil {
		s.sendFrame(client, OutboundFrame{ID: frameID(message), Type: FrameError, Detail: err.Error()})
		return
	}

	if !s.limiter.Allow(frame.UserID) {
		s.sendFrame(client, OutboundFrame{ID: frame.ID, Type: FrameError, Detail: "rate limit exceeded"})
		return
	}
	if !s.beginRequest() {
		s.sendFrame(client, OutboundFrame{ID: frame.ID, Type: FrameError, Detail: "server is shutting down"})
		return
	}

	go func() {
		defer s.inFlightReqs.Done()

		requestID := frame.ID
		if requestID == "" {
			requestID, _ = gonanoid.New()
		}
		ctx := tracing.WithRequestID(context.Background(), requestID)
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())

		resp, err := s.handler.Handle(ctx, frame.UserID, frame.Message, frame.Context)
		out := OutboundFrame{ID: frame.ID, TraceID: tracing.GetTraceID(ctx)}
		if err != nil {
			out.Type = FrameError
			out.Detail = err.Error()
		} else {
			out.Type = FrameResponse
			out.Data = resp
		}
		s.sendFrame(client, out)
	}()
}

func (s *Server) sendFrame(client *Client, frame OutboundFrame) {
	if err := client.WriteFrame(frame); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Str("frameId", frame.ID).
			Msg("Failed to send frame")
	}
}

// frameID recovers the id of a frame that failed validation, if it has one.
func frameID(message []byte) string {
	var head struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(message, &head)
	return head.ID
}

func (s *Server) fail(w http.ResponseWriter, route string, status int, detail string) {
	observability.RecordGatewayRequest(route, status)
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

func statusFor(err error) int {
	if errors.Is(err, orchestrator.ErrInvalidRequest) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			if id, err := gonanoid.New(); err == nil {
				requestID = id
			}
		}
		w.Header().Set(headerRequestID, requestID)

		ctx := tracing.WithRequestID(r.Context(), requestID)
		if traceID := r.Header.Get(headerTraceID); traceID != "" {
			ctx = tracing.WithTraceID(ctx, traceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
