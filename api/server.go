package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfitz/collabd/auth"
	"github.com/ericfitz/collabd/internal/slogging"
	"github.com/ericfitz/collabd/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	WebSocketPath     string
	AllowedOrigins    []string
	AutoJoinWorkspace bool
	WriteTimeout      time.Duration
	ReadBufferSize    int
	WriteBufferSize   int
}

// Server exposes the hub over HTTP: the WebSocket endpoint, health and metrics
type Server struct {
	hub            *Hub
	verifier       auth.Verifier
	store          Store
	metricsHandler http.Handler
	metrics        *telemetry.CollabMetrics
	cfg            ServerConfig
	upgrader       websocket.Upgrader
	startedAt      time.Time
}

// ServerOption configures optional Server collaborators
type ServerOption func(*Server)

// WithStore reports the health of store on /health
func WithStore(store Store) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithMetricsHandler serves handler on /metrics
func WithMetricsHandler(handler http.Handler) ServerOption {
	return func(s *Server) { s.metricsHandler = handler }
}

// WithMetrics records handshake failures
func WithMetrics(metrics *telemetry.CollabMetrics) ServerOption {
	return func(s *Server) { s.metrics = metrics }
}

// NewServer creates the HTTP surface for hub
func NewServer(hub *Hub, verifier auth.Verifier, cfg ServerConfig, opts ...ServerOption) *Server {
	if cfg.WebSocketPath == "" {
		cfg.WebSocketPath = "/ws"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}

	s := &Server{
		hub:       hub,
		verifier:  verifier,
		cfg:       cfg,
		metrics:   telemetry.NewNoopCollabMetrics(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	policy := newOriginPolicy(cfg.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     policy.check,
	}
	return s
}

// RegisterRoutes mounts the server's endpoints on r
func (s *Server) RegisterRoutes(r gin.IRoutes) {
	r.GET(s.cfg.WebSocketPath, s.HandleWebSocket)
	r.GET("/health", s.HandleHealth)
	if s.metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(s.metricsHandler))
	}
}

// HandleWebSocket upgrades the request, verifies its credential and hands the
// connection to the hub. A connection that fails verification is closed with
// 1008 before anything is registered.
func (s *Server) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	logger := slogging.GetContextLogger(c)

	token := auth.ExtractToken(c.Request)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}

	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		reason := authFailureReason(err)
		s.metrics.AuthFailed(ctx, reason)
		logger.WarnCtx("WebSocket authentication failed",
			slog.String("reason", reason),
			slog.String("client_ip", c.ClientIP()),
		)
		s.refuse(conn, websocket.ClosePolicyViolation, reason)
		return
	}
	c.Set(slogging.ContextUserIDKey, identity.ID)

	client, err := s.hub.Register(ctx, *identity, conn)
	if err != nil {
		logger.Warn("Refusing WebSocket connection for user %s: %v", identity.ID, err)
		s.refuse(conn, websocket.CloseGoingAway, ErrorCodeServerShutdown)
		return
	}

	s.hub.SendTo(ctx, client, MessageTypeConnectionEstablished, ConnectionEstablishedMessage{
		Type:      MessageTypeConnectionEstablished,
		ClientID:  client.ID,
		User:      NewUserInfo(client.Identity),
		Timestamp: FormatTimestamp(time.Now()),
	})
	s.hub.StartPumps(client)

	if workspaceID := c.Query("workspaceId"); workspaceID != "" && s.cfg.AutoJoinWorkspace {
		if err := s.hub.JoinRoom(ctx, client, WorkspaceRoomID(workspaceID)); err != nil {
			logger.Debug("Workspace auto-join skipped for connection %s: %v", client.ID, err)
		}
	}
}

func (s *Server) refuse(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, auth.ErrExpired):
		return "expired_credential"
	default:
		return "invalid_credential"
	}
}

// HandleHealth reports liveness, current counts and store reachability.
// An unreachable store degrades but does not fail the check.
func (s *Server) HandleHealth(c *gin.Context) {
	stats := s.hub.Stats()
	body := gin.H{
		"status":         "ok",
		"connections":    stats.Connections,
		"users":          stats.Users,
		"rooms":          stats.Rooms,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		storeStatus := gin.H{"name": s.store.Name(), "status": "ok"}
		if err := s.store.Ping(ctx); err != nil {
			storeStatus["status"] = "unreachable"
			body["status"] = "degraded"
			slogging.GetContextLogger(c).Warn("Store health check failed: %v", err)
		}
		body["store"] = storeStatus
	}

	c.JSON(http.StatusOK, body)
}
