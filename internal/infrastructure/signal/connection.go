package signal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	apperrors "roomrelay/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConnectionConfig bounds one accepted socket.
type ConnectionConfig struct {
	SendQueueSize  int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMissedPings int
	MaxMessageSize int64

	// MessagesPerSecond limits inbound frames; zero disables limiting.
	MessagesPerSecond float64
	Burst             int
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		SendQueueSize:  256,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMissedPings: 2,
		MaxMessageSize: 1 << 20,
	}
}

const (
	closeReasonQueueFull = "send queue full"
	closeReasonLiveness  = "liveness timeout"
	closeReasonWrite     = "write failed"
	closeReasonPeer      = "peer closed"
)

type outboundKind int

const (
	outboundText outboundKind = iota
	outboundBinary
	outboundPing
)

type outbound struct {
	kind outboundKind
	data []byte
}

// Connection owns one websocket. The write pump is the only goroutine that
// writes to the socket; everything else enqueues. The send channel is never
// closed, so enqueueing after teardown is safe and reports false.
type Connection struct {
	id       domain.ConnID
	ws       *websocket.Conn
	identity *domain.Identity
	cfg      ConnectionConfig

	send       chan outbound
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	reason     atomic.Value

	limiter      *rate.Limiter
	monitor      *LivenessMonitor
	lastActivity atomic.Int64

	metrics Metrics
	logger  *zap.SugaredLogger
}

var _ ports.Peer = (*Connection)(nil)

func NewConnection(ws *websocket.Conn, identity *domain.Identity, cfg ConnectionConfig, metrics Metrics, logger *zap.SugaredLogger) *Connection {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultConnectionConfig().SendQueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConnectionConfig().PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConnectionConfig().WriteTimeout
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}

	c := &Connection{
		id:         domain.ConnID(uuid.NewString()),
		ws:         ws,
		identity:   identity,
		cfg:        cfg,
		send:       make(chan outbound, cfg.SendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		monitor:    NewLivenessMonitor(cfg.PingInterval, cfg.MaxMissedPings),
		metrics:    metrics,
	}
	c.logger = logger.With("conn_id", c.id)
	if cfg.MessagesPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.MessagesPerSecond)
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), burst)
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

func (c *Connection) ID() domain.ConnID { return c.id }

func (c *Connection) Identity() *domain.Identity { return c.identity }

func (c *Connection) Send(frame []byte) bool {
	return c.enqueue(outbound{kind: outboundText, data: frame})
}

func (c *Connection) SendBinary(data []byte) bool {
	return c.enqueue(outbound{kind: outboundBinary, data: data})
}

func (c *Connection) enqueue(msg outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.Close(closeReasonQueueFull)
		return false
	}
}

// Close schedules teardown. Only the first reason is kept; queued frames
// are still flushed before the close frame is written.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason.Store(reason)
		close(c.done)
	})
}

// CloseReason is empty while the connection is open.
func (c *Connection) CloseReason() string {
	reason, _ := c.reason.Load().(string)
	return reason
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Start launches the write pump and the liveness monitor.
func (c *Connection) Start() {
	go c.writePump()
	c.monitor.Start(
		func() bool { return c.enqueue(outbound{kind: outboundPing}) },
		func() {
			c.logger.Infow("peer missed heartbeats", "missed", c.cfg.MaxMissedPings)
			c.Close(closeReasonLiveness)
		},
	)
}

// ReadLoop reads frames until the socket fails or the connection is closed,
// handing each to handler. It runs teardown exactly once on return, so it
// must be called once, after Start.
func (c *Connection) ReadLoop(ctx context.Context, handler ports.FrameHandler) {
	defer c.teardown(ctx, handler)

	if c.cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debugw("websocket read failed", "error", err)
			}
			return
		}
		c.touch()

		binary := messageType == websocket.BinaryMessage
		if c.limiter != nil && !c.limiter.Allow() {
			c.metrics.FrameRejected("rate_limited")
			if !binary {
				appErr := apperrors.NewRateLimitError()
				c.Send(encode(errorMessage{Type: TypeError, Code: string(appErr.Code), Message: appErr.Message}))
			}
			continue
		}
		handler.HandleFrame(ctx, c, binary, data)
	}
}

func (c *Connection) teardown(ctx context.Context, handler ports.FrameHandler) {
	c.monitor.Stop()
	c.Close(closeReasonPeer)
	handler.HandleDisconnect(ctx, c)
	<-c.writerDone
	c.logger.Debugw("connection closed", "reason", c.CloseReason())
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
	c.monitor.Ack()
	c.extendReadDeadline()
}

// extendReadDeadline is a backstop behind the liveness monitor for peers
// that stop reading entirely.
func (c *Connection) extendReadDeadline() {
	window := c.cfg.PingInterval * time.Duration(c.cfg.MaxMissedPings+2)
	_ = c.ws.SetReadDeadline(time.Now().Add(window))
}

func (c *Connection) writePump() {
	defer close(c.writerDone)
	defer c.ws.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debugw("websocket write failed", "error", err)
				c.Close(closeReasonWrite)
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then the close frame, under one
// shared deadline.
func (c *Connection) flush() {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	for {
		select {
		case msg := <-c.send:
			if msg.kind == outboundPing {
				continue
			}
			if err := c.write(msg, deadline); err != nil {
				return
			}
		default:
			reason := c.CloseReason()
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				deadline,
			)
			return
		}
	}
}

func (c *Connection) write(msg outbound, deadline time.Time) error {
	_ = c.ws.SetWriteDeadline(deadline)
	switch msg.kind {
	case outboundBinary:
		return c.ws.WriteMessage(websocket.BinaryMessage, msg.data)
	case outboundPing:
		return c.ws.WriteMessage(websocket.PingMessage, nil)
	default:
		return c.ws.WriteMessage(websocket.TextMessage, msg.data)
	}
}
