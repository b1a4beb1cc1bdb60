package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/service/dashboard"
	"github.com/agentwatch/agentwatch/pkg/models"
)

const (
	DefaultCostInterval     = 5 * time.Second
	DefaultResourceInterval = 10 * time.Second
	DefaultAlertInterval    = 30 * time.Second
)

// DataSource recomputes the state pushed to clients
type DataSource interface {
	Snapshot(ctx context.Context) dashboard.Snapshot
	Costs(ctx context.Context) dashboard.CostReport
	Resources(ctx context.Context) dashboard.ResourceReport
	EvaluateAlerts(ctx context.Context) []models.Alert
}

// Broadcaster runs the periodic pushes and accepts new connections
type Broadcaster struct {
	hub    *Hub
	source DataSource
	logger *slog.Logger

	costInterval     time.Duration
	resourceInterval time.Duration
	alertInterval    time.Duration
	clientCfg        ClientConfig
	upgrader         websocket.Upgrader

	// Shutdown coordination
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures the broadcaster
type Option func(*Broadcaster)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// WithIntervals sets the cost, resource and alert push intervals
func WithIntervals(costs, resources, alerts time.Duration) Option {
	return func(b *Broadcaster) {
		if costs > 0 {
			b.costInterval = costs
		}
		if resources > 0 {
			b.resourceInterval = resources
		}
		if alerts > 0 {
			b.alertInterval = alerts
		}
	}
}

// WithClientConfig sets per-connection limits
func WithClientConfig(cfg ClientConfig) Option {
	return func(b *Broadcaster) {
		b.clientCfg = cfg.withDefaults()
	}
}

// WithCheckOrigin overrides the upgrader's same-origin check
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(b *Broadcaster) {
		b.upgrader.CheckOrigin = fn
	}
}

// New creates a broadcaster over hub
func New(hub *Hub, source DataSource, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		hub:              hub,
		source:           source,
		logger:           slog.Default(),
		costInterval:     DefaultCostInterval,
		resourceInterval: DefaultResourceInterval,
		alertInterval:    DefaultAlertInterval,
		clientCfg:        DefaultClientConfig(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Hub returns the connection registry
func (b *Broadcaster) Hub() *Hub {
	return b.hub
}

// Start launches the three push timers
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	b.running = true
	b.stopCh = make(chan struct{})

	b.logger.Info("starting live-update broadcaster",
		slog.Duration("cost_interval", b.costInterval),
		slog.Duration("resource_interval", b.resourceInterval),
		slog.Duration("alert_interval", b.alertInterval))

	b.runTimer(ctx, "costs", b.costInterval, b.pushCosts)
	b.runTimer(ctx, "resources", b.resourceInterval, b.pushResources)
	b.runTimer(ctx, "alerts", b.alertInterval, b.pushAlerts)

	return nil
}

// Stop halts the timers and closes every connection
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		b.hub.Close()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.hub.Close()
	b.logger.Info("live-update broadcaster stopped")
}

// runTimer ticks push on its own goroutine so that one topic's ticks never
// overlap and a slow topic never delays another
func (b *Broadcaster) runTimer(ctx context.Context, topic string, interval time.Duration, push func(context.Context)) {
	stopCh := b.stopCh
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if b.hub.Count() == 0 && topic != "alerts" {
					continue
				}
				start := time.Now()
				tickCtx, cancel := context.WithTimeout(ctx, interval)
				push(tickCtx)
				cancel()
				metrics.RecordBroadcast(topic, time.Since(start))
			}
		}
	}()
}

func (b *Broadcaster) pushCosts(ctx context.Context) {
	b.hub.Broadcast(NewMessage(TypeCostsUpdate, b.source.Costs(ctx)))
}

func (b *Broadcaster) pushResources(ctx context.Context) {
	b.hub.Broadcast(NewMessage(TypeResourceUpdate, b.source.Resources(ctx)))
}

// pushAlerts evaluates alerts even with no clients connected so that the
// alert list served over the API stays current
func (b *Broadcaster) pushAlerts(ctx context.Context) {
	for _, a := range b.source.EvaluateAlerts(ctx) {
		b.hub.Broadcast(NewMessage(TypeAlert, a))
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
// The init snapshot is queued before the client is registered, so it is
// always the first message the client receives.
func (b *Broadcaster) ServeWS(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed",
			slog.String("remote", c.ClientIP()),
			slog.String("error", err.Error()))
		return
	}

	client := newClient(b.hub, conn, b.clientCfg, b.logger)
	ctx := logging.WithChannelID(c.Request.Context(), client.id)

	initMsg, err := encode(NewMessage(TypeInit, b.source.Snapshot(ctx)))
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to encode init snapshot",
			slog.String("error", err.Error()))
		conn.Close()
		return
	}
	client.enqueue(initMsg)

	go client.writePump()

	if !b.hub.Register(client) {
		client.close()
		return
	}

	client.readPump(ctx)
}
