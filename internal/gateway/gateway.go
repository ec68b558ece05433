package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/config"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
	"github.com/nerrad567/microcoaster-core/internal/presence"
)

// Default timings, matching the firmware's expectations.
const (
	DefaultIdentifyTimeout = 10 * time.Second
	DefaultPingInterval    = 20 * time.Second
	DefaultPongTimeout     = 10 * time.Second
	DefaultMaxMessageSize  = 4096
	DefaultSendBuffer      = 32

	credentialTimeout = 5 * time.Second
	writeWait         = 10 * time.Second
)

// Options tunes connection handling.
type Options struct {
	IdentifyTimeout time.Duration
	PingInterval    time.Duration
	PongTimeout     time.Duration
	MaxMessageSize  int64
	SendBuffer      int
}

// OptionsFromConfig converts the devices section of the config file.
func OptionsFromConfig(cfg config.DevicesConfig) Options {
	return Options{
		IdentifyTimeout: time.Duration(cfg.IdentifyTimeout) * time.Second,
		PingInterval:    time.Duration(cfg.PingInterval) * time.Second,
		PongTimeout:     time.Duration(cfg.PongTimeout) * time.Second,
		MaxMessageSize:  int64(cfg.MaxMessageSize),
		SendBuffer:      cfg.SendBuffer,
	}
}

func (o Options) withDefaults() Options {
	if o.IdentifyTimeout <= 0 {
		o.IdentifyTimeout = DefaultIdentifyTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	return o
}

// CredentialValidator authenticates a module by ID and secret.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context, id, secret string) (*device.Module, error)
}

// Tracker is the subset of the presence tracker used by the gateway.
type Tracker interface {
	RegisterDevice(deviceID, deviceType, ownerUserID string, conn presence.Conn) *presence.Session
	UnregisterDevice(conn presence.Conn) *presence.Session
	RecordTelemetry(deviceID string, sample map[string]any) presence.DeviceState
	RecordHeartbeat(deviceID string, fields map[string]any)
	Touch(deviceID string)
}

// AckSink receives command acknowledgements from modules.
type AckSink interface {
	CommandAck(deviceID, ownerUserID string, ack map[string]any)
}

// Gateway accepts module connections. It implements http.Handler.
type Gateway struct {
	opts    Options
	creds   CredentialValidator
	tracker Tracker
	logger  *logging.Logger

	acksMu sync.RWMutex
	acks   AckSink

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

// New creates a gateway.
func New(opts Options, creds CredentialValidator, tracker Tracker, logger *logging.Logger) *Gateway {
	return &Gateway{
		opts:    opts.withDefaults(),
		creds:   creds,
		tracker: tracker,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Modules are not browsers and send no Origin.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

// SetAckSink installs the receiver for command_response frames.
func (g *Gateway) SetAckSink(a AckSink) {
	g.acksMu.Lock()
	g.acks = a
	g.acksMu.Unlock()
}

func (g *Gateway) ackSink() AckSink {
	g.acksMu.RLock()
	defer g.acksMu.RUnlock()
	return g.acks
}

// ServeHTTP upgrades the request and starts the connection's pumps.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("module websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(uuid.NewString(), ws, g)

	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()

	g.logger.Debug("module connection opened", "conn_id", c.id, "remote", r.RemoteAddr)

	g.wg.Add(2) //nolint:mnd // read and write pumps
	go func() {
		defer g.wg.Done()
		c.writePump()
	}()
	go func() {
		defer g.wg.Done()
		c.readPump()
	}()
}

// ConnectionCount returns the number of open module connections,
// authenticated or not.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown closes every connection and waits for their pumps to exit or
// for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for _, c := range g.conns {
		c.Close(ReasonShutdown)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) forget(c *Conn) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
}
