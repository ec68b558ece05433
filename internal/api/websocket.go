package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/microcoaster-core/internal/command"
	"github.com/nerrad567/microcoaster-core/internal/hub"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
)

// WebSocket defaults used when the websocket config section leaves them unset.
const (
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second

	// wsCommandTimeout bounds the ownership lookup of a WebSocket command.
	wsCommandTimeout = 5 * time.Second
)

// inboundMessage is a frame received from a dashboard client.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type pagePayload struct {
	Page string `json:"page"`
}

type wsCommandPayload struct {
	DeviceID string          `json:"deviceId"`
	Command  string          `json:"command"`
	Params   json.RawMessage `json:"params"`
}

// wsSession pumps frames between one dashboard connection and its hub client.
type wsSession struct {
	srv    *Server
	conn   *websocket.Conn
	client *hub.Client
	logger *logging.Logger

	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication is via ticket query parameter (obtained from POST /auth/ws-ticket);
// the optional page parameter sets the initial page.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	identity, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := hub.NewClient(identity.UserID, identity.Role, r.URL.Query().Get("page"), s.wsCfg.SendBuffer)
	sess := s.newWSSession(conn, client)

	for _, old := range s.hub.Register(client) {
		s.events.ClientDisconnected(old.Info())
	}
	s.events.ClientConnected(client.Info())

	go sess.writePump()
	go sess.readPump()
}

func (s *Server) newWSSession(conn *websocket.Conn, client *hub.Client) *wsSession {
	sess := &wsSession{
		srv:            s,
		conn:           conn,
		client:         client,
		logger:         s.logger.With("connection_id", client.ID, "user_id", client.UserID),
		maxMessageSize: int64(s.wsCfg.MaxMessageSize),
		pingInterval:   time.Duration(s.wsCfg.PingInterval) * time.Second,
		pongWait:       time.Duration(s.wsCfg.PongTimeout) * time.Second,
	}
	if sess.maxMessageSize <= 0 {
		sess.maxMessageSize = defaultWSMaxMessageSize
	}
	if sess.pingInterval <= 0 {
		sess.pingInterval = defaultWSPingInterval
	}
	if sess.pongWait <= 0 {
		sess.pongWait = defaultWSPongTimeout
	}
	return sess
}

// readPump reads messages from the WebSocket connection.
func (ws *wsSession) readPump() {
	defer func() {
		// A superseded client is already gone from the hub.
		if removed := ws.srv.hub.Unregister(ws.client.ID); removed != nil {
			ws.srv.events.ClientDisconnected(removed.Info())
		}
		ws.conn.Close()
	}()

	ws.conn.SetReadLimit(ws.maxMessageSize)
	deadline := ws.pingInterval + ws.pongWait
	//nolint:errcheck // Best-effort deadline on connection setup
	ws.conn.SetReadDeadline(time.Now().Add(deadline))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Warn("websocket read error", "error", err)
			} else {
				ws.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message keeps the connection alive, even if the
		// browser does not answer protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		ws.conn.SetReadDeadline(time.Now().Add(deadline))
		ws.handleMessage(message)
	}
}

// writePump drains the hub client's outbound queue onto the connection.
func (ws *wsSession) writePump() {
	ticker := time.NewTicker(ws.pingInterval)
	defer func() {
		ticker.Stop()
		ws.conn.Close()
	}()

	for {
		select {
		case message, ok := <-ws.client.Outbound():
			if !ok {
				// Hub closed the client (shutdown or superseded)
				//nolint:errcheck // Best-effort close message
				ws.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(ws.pongWait))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			ws.conn.SetWriteDeadline(time.Now().Add(ws.pongWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			ws.conn.SetWriteDeadline(time.Now().Add(ws.pongWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message. Errors are
// reported to the client and never close the connection.
func (ws *wsSession) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		ws.client.ReplyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case hub.TypePage:
		ws.handlePage(msg)
	case hub.TypeCommand:
		ws.handleCommand(msg)
	case hub.TypePing:
		ws.client.Reply(hub.TypePong, msg.ID, nil)
	default:
		ws.client.ReplyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (ws *wsSession) handlePage(msg inboundMessage) {
	var p pagePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		ws.client.ReplyError(msg.ID, "invalid page payload")
		return
	}

	ws.srv.hub.SetPage(ws.client.ID, p.Page)
	ws.client.Reply(hub.TypeResponse, msg.ID, map[string]string{"page": p.Page})
}

func (ws *wsSession) handleCommand(msg inboundMessage) {
	var p wsCommandPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		ws.client.ReplyError(msg.ID, "invalid command payload")
		return
	}

	params, err := command.ParseParams(p.Params)
	if err != nil {
		ws.client.Reply(hub.TypeResponse, msg.ID, command.Result{Reason: command.ReasonInvalidCommand})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()

	res := ws.srv.dispatcher.Dispatch(ctx, ws.client.UserID, p.DeviceID, p.Command, params)
	ws.client.Reply(hub.TypeResponse, msg.ID, res)
}
