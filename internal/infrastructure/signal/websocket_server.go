package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/services"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenValidator checks access tokens presented at accept time.
type TokenValidator interface {
	ValidateToken(token string) (*services.Claims, error)
}

type ServerConfig struct {
	Connection     ConnectionConfig
	AllowedOrigins []string
	// RequireToken rejects upgrades without a valid ?token=.
	RequireToken bool
}

// WebSocketServer accepts relay connections and keeps track of them until
// they are torn down.
type WebSocketServer struct {
	router  *Router
	tokens  TokenValidator
	cfg     ServerConfig
	metrics Metrics

	upgrader websocket.Upgrader

	// baseCtx outlives individual HTTP requests; hijacked sockets use it.
	baseCtx context.Context

	mu          sync.RWMutex
	connections map[domain.ConnID]*Connection
	closing     bool
	wg          sync.WaitGroup

	logger *zap.SugaredLogger
}

// NewWebSocketServer builds a server. tokens may be nil when tokens are
// never required.
func NewWebSocketServer(
	ctx context.Context,
	router *Router,
	tokens TokenValidator,
	cfg ServerConfig,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	s := &WebSocketServer{
		router:      router,
		tokens:      tokens,
		cfg:         cfg,
		metrics:     metrics,
		baseCtx:     ctx,
		connections: make(map[domain.ConnID]*Connection),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warnw("rejected websocket origin", "origin", origin)
	return false
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes. Query parameters: token, roomId, role.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	identity, ok := s.authenticate(w, query.Get("token"))
	if !ok {
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws, identity, s.cfg.Connection, s.metrics, s.logger)
	if !s.register(conn) {
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, reasonShutdown),
			time.Now().Add(time.Second),
		)
		ws.Close()
		return
	}
	defer s.unregister(conn)

	ctx := s.baseCtx
	conn.Start()
	s.router.HandleConnect(ctx, conn)
	if roomID := query.Get("roomId"); roomID != "" {
		s.router.BindFromQuery(ctx, conn, roomID, query.Get("role"))
	}
	conn.ReadLoop(ctx, s.router)
}

func (s *WebSocketServer) authenticate(w http.ResponseWriter, token string) (*domain.Identity, bool) {
	if token == "" {
		if s.cfg.RequireToken {
			http.Error(w, "token required", http.StatusUnauthorized)
			return nil, false
		}
		return nil, true
	}
	if s.tokens == nil {
		return nil, true
	}
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		s.logger.Debugw("websocket token rejected", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return nil, false
	}
	return claims.Identity(), true
}

func (s *WebSocketServer) register(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.connections[conn.ID()] = conn
	s.wg.Add(1)
	return true
}

func (s *WebSocketServer) unregister(conn *Connection) {
	s.mu.Lock()
	delete(s.connections, conn.ID())
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown stops accepting connections, closes every room with a shutdown
// notice, closes remaining connections and waits for their teardown or
// for ctx to end.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	rooms := s.router.Drain(ctx)
	for _, c := range conns {
		c.Close(reasonShutdown)
	}
	s.logger.Infow("draining connections", "rooms", rooms, "connections", len(conns))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
