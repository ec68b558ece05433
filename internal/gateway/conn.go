package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/microcoaster-core/internal/device"
)

// State is the lifecycle stage of a module connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Conn is one module WebSocket connection. It implements presence.Conn.
type Conn struct {
	id string
	ws *websocket.Conn
	gw *Gateway

	state atomic.Int32
	send  chan []byte

	// Set once on authentication, read afterwards by the read pump and
	// by senders.
	mu         sync.RWMutex
	deviceID   string
	deviceType string
	ownerID    string

	identifyDog *watchdog
	pongDog     *watchdog

	closeOnce   sync.Once
	closing     chan struct{}
	closeReason atomic.Value // string
}

func newConn(id string, ws *websocket.Conn, gw *Gateway) *Conn {
	c := &Conn{
		id:      id,
		ws:      ws,
		gw:      gw,
		send:    make(chan []byte, gw.opts.SendBuffer),
		closing: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.identifyDog = newWatchdog(func() { c.Close(ReasonIdentifyTimeout) })
	c.pongDog = newWatchdog(func() { c.Close(ReasonHeartbeatTimeout) })
	return c
}

// ID returns the connection ID.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// DeviceID returns the identified module ID, or "" before authentication.
func (c *Conn) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// Close asks the connection to shut down. It never blocks; the first
// reason wins. A superseded connection is told so before it closes.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason.Store(reason)
		if reason == ReasonSuperseded {
			c.enqueue(messageFrame{Type: FrameSuperseded, Message: "a newer connection for this module was accepted"}) //nolint:errcheck // best effort
		}
		close(c.closing)
	})
}

func (c *Conn) reason() string {
	r, _ := c.closeReason.Load().(string) //nolint:errcheck // empty when closed by the peer
	return r
}

func (c *Conn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// SendCommand queues a command frame for the module.
func (c *Conn) SendCommand(command string, params map[string]any) error {
	if c.State() != StateAuthenticated {
		return ErrNotAuthenticated
	}
	if params == nil {
		params = map[string]any{}
	}
	return c.enqueue(commandFrame{
		Type: FrameCommand,
		Data: commandData{Command: command, Params: params},
	})
}

// enqueue marshals a frame and queues it without blocking.
func (c *Conn) enqueue(frame any) (err error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if c.State() == StateClosed {
		return ErrConnClosed
	}

	defer func() {
		if recover() != nil { // send on closed channel
			err = ErrConnClosed
		}
	}()
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// readPump owns all inbound processing and the final teardown.
func (c *Conn) readPump() {
	defer c.finish()

	c.ws.SetReadLimit(c.gw.opts.MaxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.heartbeat()
		return nil
	})

	c.state.Store(int32(StateAuthenticating))
	c.identifyDog.Arm(c.gw.opts.IdentifyTimeout)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.isClosing() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Debug("module read error", "conn_id", c.id, "device_id", c.DeviceID(), "error", err)
			}
			return
		}
		if c.isClosing() {
			return
		}
		if !c.handle(data) {
			return
		}
	}
}

// handle processes one frame and reports whether reading should continue.
func (c *Conn) handle(data []byte) bool {
	f, err := decodeFrame(data)
	if err != nil {
		return c.violation("malformed frame", err.Error())
	}

	if c.State() != StateAuthenticated {
		switch {
		case f.Type == FrameIdentify:
			return c.identify(f)
		case f.Type == FrameTelemetry && f.hasCredentials():
			if !c.identify(f) {
				return false
			}
			c.gw.tracker.RecordTelemetry(c.DeviceID(), f.payload())
			return true
		default:
			return c.violation("frame before identification", f.Type)
		}
	}

	deviceID := c.DeviceID()
	if f.ModuleID != "" && f.ModuleID != deviceID {
		return c.violation("frame names another module", f.ModuleID)
	}

	switch f.Type {
	case FrameIdentify:
		// Repeated identify for the same module: acknowledge again.
		c.enqueue(connectedFrame{Type: FrameConnected, ModuleID: deviceID}) //nolint:errcheck // best effort
	case FrameTelemetry:
		c.gw.tracker.RecordTelemetry(deviceID, f.payload())
	case FrameHeartbeat:
		c.pongDog.Cancel()
		c.gw.tracker.RecordHeartbeat(deviceID, f.payload())
	case FramePong:
		c.heartbeat()
	case FrameCommandResponse:
		c.gw.tracker.Touch(deviceID)
		if sink := c.gw.ackSink(); sink != nil {
			c.mu.RLock()
			owner := c.ownerID
			c.mu.RUnlock()
			sink.CommandAck(deviceID, owner, f.payload())
		}
	default:
		return c.violation("unknown frame type", f.Type)
	}
	return true
}

// identify validates credentials and promotes the connection to a session.
func (c *Conn) identify(f *inbound) bool {
	logger := c.gw.logger.With("conn_id", c.id, "device_id", f.ModuleID)

	var mod *device.Module
	err := errMalformedFrame
	if f.hasCredentials() {
		ctx, cancel := context.WithTimeout(context.Background(), credentialTimeout)
		mod, err = c.gw.creds.ValidateCredentials(ctx, f.ModuleID, f.Password)
		cancel()
	}
	if err != nil {
		logger.Warn("module authentication failed", "error", err)
		c.enqueue(messageFrame{Type: FrameError, Message: ReasonAuthFailed}) //nolint:errcheck // best effort
		c.Close(ReasonAuthFailed)
		return false
	}
	if c.isClosing() {
		return false
	}

	moduleType := f.ModuleType
	if moduleType == "" {
		moduleType = string(mod.Type)
	}

	c.mu.Lock()
	c.deviceID = mod.ID
	c.deviceType = moduleType
	c.ownerID = mod.OwnerID
	c.mu.Unlock()

	c.identifyDog.Cancel()
	if !c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateAuthenticated)) {
		return false
	}

	c.gw.tracker.RegisterDevice(mod.ID, moduleType, mod.OwnerID, c)
	c.enqueue(connectedFrame{Type: FrameConnected, ModuleID: mod.ID}) //nolint:errcheck // best effort
	logger.Info("module authenticated", "module_type", moduleType, "owner_id", mod.OwnerID)
	return true
}

func (c *Conn) heartbeat() {
	c.pongDog.Cancel()
	if id := c.DeviceID(); id != "" {
		c.gw.tracker.Touch(id)
	}
}

func (c *Conn) violation(what, detail string) bool {
	c.gw.logger.Warn("module protocol violation",
		"conn_id", c.id,
		"device_id", c.DeviceID(),
		"violation", what,
		"detail", detail,
	)
	c.Close(ReasonProtocolViolation)
	return false
}

// writePump serialises all writes to the socket, including pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.gw.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close() //nolint:errcheck // unblocks the read pump
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.Close("write failed")
				return
			}

		case <-ticker.C:
			if c.State() != StateAuthenticated {
				continue
			}
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close("write failed")
				return
			}
			c.pongDog.ArmIfIdle(c.gw.opts.PongTimeout)

		case <-c.closing:
			c.flush()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.reason())
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) //nolint:errcheck // peer may be gone
			return
		}
	}
}

// flush writes whatever is still queued, such as an error or superseded
// frame sent just before closing.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			if c.write(websocket.TextMessage, data) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error reported below
	return c.ws.WriteMessage(messageType, data)
}

// finish tears the connection down once the read pump exits. Timers are
// cancelled before the tracker hears about the disconnect.
func (c *Conn) finish() {
	c.Close("connection closed")
	c.identifyDog.Cancel()
	c.pongDog.Cancel()
	c.state.Store(int32(StateClosed))

	sess := c.gw.tracker.UnregisterDevice(c)
	c.gw.forget(c)

	c.gw.logger.Info("module connection closed",
		"conn_id", c.id,
		"device_id", c.DeviceID(),
		"reason", c.reason(),
		"was_session", sess != nil,
	)
}
