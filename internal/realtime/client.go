package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/agentwatch/agentwatch/internal/metrics"
)

// ClientState is the lifecycle stage of a connection
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ClientConfig bounds per-connection resources
type ClientConfig struct {
	SendQueueSize     int
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	InboundPerSecond  float64
	MaxInboundMessage int64
}

// DefaultClientConfig returns the default per-connection limits
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendQueueSize:     32,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		InboundPerSecond:  10,
		MaxInboundMessage: 4096,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.InboundPerSecond <= 0 {
		c.InboundPerSecond = d.InboundPerSecond
	}
	if c.MaxInboundMessage <= 0 {
		c.MaxInboundMessage = d.MaxInboundMessage
	}
	return c
}

// Client is one live-update connection. writePump is the only goroutine
// that writes to the socket; everything else goes through the send queue.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	cfg    ClientConfig
	logger *slog.Logger

	send    chan outbound
	done    chan struct{}
	limiter *rate.Limiter

	state     atomic.Int32
	closeOnce sync.Once

	subMu         sync.RWMutex
	subscriptions []string
}

func newClient(hub *Hub, conn *websocket.Conn, cfg ClientConfig, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	id := uuid.New().String()

	burst := int(cfg.InboundPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With(slog.String("client_id", id)),
		send:    make(chan outbound, cfg.SendQueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.InboundPerSecond), burst),
	}
}

// ID returns the connection identifier
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle stage
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// Subscriptions returns the channels the client last asked for
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, len(c.subscriptions))
	copy(out, c.subscriptions)
	return out
}

// enqueue queues a message without blocking. It reports false when the
// client is closed or its queue is full.
func (c *Client) enqueue(msg outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		metrics.RecordMessageSent(string(msg.msgType))
		return true
	default:
		metrics.RecordMessageDropped(string(msg.msgType))
		return false
	}
}

// close stops both pumps and removes the client from the hub. Safe to call
// from any goroutine, any number of times.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		if c.hub != nil {
			c.hub.Unregister(c)
		}
		if c.conn == nil {
			c.state.Store(int32(StateClosed))
		}
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.state.Store(int32(StateClosed))
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg.payload); err != nil {
				c.logger.Debug("write failed, closing connection",
					slog.String("type", string(msg.msgType)),
					slog.String("error", err.Error()))
				c.close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed, closing connection",
					slog.String("error", err.Error()))
				c.close()
				return
			}

		case <-c.done:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.close()

	pongWait := 2 * c.cfg.PingInterval
	c.conn.SetReadLimit(c.cfg.MaxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.DebugContext(ctx, "connection closed unexpectedly",
					slog.String("error", err.Error()))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.logger.WarnContext(ctx, "inbound message rate exceeded, dropping message")
			continue
		}

		c.handleInbound(ctx, data)
	}
}

func (c *Client) handleInbound(ctx context.Context, data []byte) {
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		c.logger.WarnContext(ctx, "dropping malformed message",
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()))
		return
	}

	switch in.Type {
	case typePing:
		c.reply(ctx, NewMessage(TypePong, nil))

	case typeSubscribe:
		channels := in.channels()
		c.subMu.Lock()
		c.subscriptions = channels
		c.subMu.Unlock()
		c.reply(ctx, NewMessage(TypeSubscribed, SubscribedData{Channels: channels}))

	default:
		c.logger.WarnContext(ctx, "dropping unknown message type",
			slog.String("type", in.Type))
	}
}

func (c *Client) reply(ctx context.Context, msg Message) {
	out, err := encode(msg)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to encode reply",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()))
		return
	}
	if !c.enqueue(out) {
		c.logger.WarnContext(ctx, "send queue full, dropping reply",
			slog.String("type", string(msg.Type)))
	}
}
