package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
	"github.com/voxtutor/voxtutor/pkg/gateway/apierror"
	"github.com/voxtutor/voxtutor/pkg/gateway/config"
	"github.com/voxtutor/voxtutor/pkg/gateway/sessions"
	"github.com/voxtutor/voxtutor/pkg/session"
)

// Handler upgrades /v1/sessions/{id}/live to a WebSocket and wires the
// connection into the session's transport and notification hub.
type Handler struct {
	Config  config.Config
	Logger  *slog.Logger
	Manager *session.Manager
	Hub     *Hub
	Tracker *sessions.Tracker
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	ctrl, err := h.Manager.Get(sessionID)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Browser clients carry no usable origin guarantee for this API;
		// auth happens before the upgrade.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	ws.SetReadLimit(h.Config.WSMaxFrameBytes)

	conn := &liveConn{
		cfg:       h.Config,
		logger:    h.Logger,
		ws:        ws,
		sessionID: sessionID,
		ctrl:      ctrl,
		manager:   h.Manager,
		hub:       h.Hub,
	}
	unregister := h.Tracker.Register(sessionID, sessions.Handle{
		Cancel: conn.close,
		Warn:   conn.warn,
	})
	defer unregister()

	conn.run()
}

// liveConn is one WebSocket attachment to a session. All writes go through
// writeMu; gorilla connections allow one concurrent writer.
type liveConn struct {
	cfg       config.Config
	logger    *slog.Logger
	ws        *websocket.Conn
	sessionID string
	ctrl      *session.Controller
	manager   *session.Manager
	hub       *Hub

	writeMu sync.Mutex
	closed  bool
}

func (c *liveConn) run() {
	c.ctrl.Transport().Bind(c.sendFrame, c.requestResend)
	// A send failure before this attachment halted output with the remainder
	// re-queued; the fresh connection picks it back up.
	c.ctrl.ResumeOutput()
	c.hub.Register(c.sessionID, c.sendNotification)
	defer c.detach()

	c.sendControl(ControlMessage{
		Type:      MsgHello,
		SessionID: c.sessionID,
		Phase:     c.ctrl.Phase().String(),
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(pingDone)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("live connection dropped",
					"session_id", c.sessionID, "error", err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			frame, err := DecodeFrame(data)
			if err != nil {
				c.sendControl(ControlMessage{Type: MsgError, Message: err.Error()})
				continue
			}
			frame.Timestamp = time.Now()
			c.ctrl.Ingest(frame)
		case websocket.TextMessage:
			// Control traffic from the client is currently ignored; session
			// commands go through the REST surface.
		}
	}
}

// detach unbinds the transport and, if no reconnect lands within the grace
// window, pauses the session so progress is checkpointed rather than lost.
func (c *liveConn) detach() {
	c.hub.Unregister(c.sessionID)
	transport := c.ctrl.Transport()
	transport.Unbind()

	grace := c.cfg.WSReconnectGrace
	manager := c.manager
	sessionID := c.sessionID
	logger := c.logger
	go func() {
		if grace > 0 {
			time.Sleep(grace)
		}
		if transport.Bound() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := manager.PauseSession(ctx, sessionID)
		if err != nil {
			var coreErr *core.Error
			if errors.As(err, &coreErr) &&
				(coreErr.Type == core.ErrNotFound || coreErr.Type == core.ErrValidation) {
				return
			}
			logger.Warn("pause after disconnect failed",
				"session_id", sessionID, "error", err)
			return
		}
		logger.Info("session paused after connection loss", "session_id", sessionID)
	}()
}

func (c *liveConn) sendFrame(frame types.AudioFrame) error {
	return c.write(websocket.BinaryMessage, EncodeFrame(frame))
}

func (c *liveConn) requestResend(from, to uint64) {
	c.sendControl(ControlMessage{Type: MsgResend, From: from, To: to})
}

func (c *liveConn) sendNotification(n session.Notification) {
	c.sendControl(ControlMessage{
		Type:      MsgNotification,
		SessionID: n.SessionID,
		Kind:      n.Kind,
		Phase:     n.Phase,
		Message:   n.Message,
	})
}

func (c *liveConn) sendControl(msg ControlMessage) {
	if err := c.write(websocket.TextMessage, encodeControl(msg)); err != nil {
		c.logger.Debug("control write failed",
			"session_id", c.sessionID, "type", msg.Type, "error", err)
	}
}

func (c *liveConn) write(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return core.NewConnectionError("connection closed", nil)
	}
	deadline := time.Now().Add(c.cfg.WSWriteTimeout)
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return core.NewConnectionError("set write deadline", err)
	}
	if err := c.ws.WriteMessage(msgType, data); err != nil {
		return core.NewConnectionError("websocket write", err)
	}
	return nil
}

func (c *liveConn) warn(code, message string) error {
	c.sendControl(ControlMessage{Type: MsgNotification, Kind: code, Message: message})
	return nil
}

func (c *liveConn) close() {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return
	}
	c.closed = true
	c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WSWriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
	_ = c.ws.Close()
}

func (c *liveConn) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.WSPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WSWriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}
