package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantumportal/quantumportal/internal/logging"
	"github.com/quantumportal/quantumportal/internal/quantum"
	"github.com/quantumportal/quantumportal/internal/session"
)

// Demo actions accepted next to the store action names.
const (
	ActionMeasureQubit         = "MEASURE_QUBIT"
	ActionOpenBox              = "OPEN_BOX"
	ActionToggleQubit          = "TOGGLE_QUBIT"
	ActionCompute              = "COMPUTE"
	ActionApplyGate            = "APPLY_GATE"
	ActionSetPositionCertainty = "SET_POSITION_CERTAINTY"
)

// Message types sent to clients besides the session events.
const (
	messageError  = "error"
	messageReload = "reload"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 32
)

// MessageEnvelope is a client request over the WebSocket or POST /api/actions.
type MessageEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Error string `json:"error"`
}

// applyEnvelope runs one client request against sess.
func applyEnvelope(ctx context.Context, sess *session.Session, env MessageEnvelope) (session.Snapshot, error) {
	switch env.Action {
	case ActionMeasureQubit:
		return sess.MeasureQubit(ctx)

	case ActionOpenBox:
		return sess.OpenBox(ctx)

	case ActionToggleQubit:
		var p struct {
			Index *int `json:"index"`
		}
		if err := decodeData(env, &p); err != nil {
			return session.Snapshot{}, err
		}
		if p.Index == nil {
			return session.Snapshot{}, fmt.Errorf("%w: %s requires index", quantum.ErrInvalidPayload, env.Action)
		}
		return sess.ToggleRegisterQubit(ctx, *p.Index)

	case ActionCompute:
		return sess.ComputeRegister(ctx)

	case ActionApplyGate:
		var p struct {
			Gate string `json:"gate"`
		}
		if err := decodeData(env, &p); err != nil {
			return session.Snapshot{}, err
		}
		g, err := quantum.ParseGate(p.Gate)
		if err != nil {
			return session.Snapshot{}, err
		}
		return sess.ApplyGate(ctx, g)

	case ActionSetPositionCertainty:
		var p struct {
			Position *int `json:"position"`
		}
		if err := decodeData(env, &p); err != nil {
			return session.Snapshot{}, err
		}
		if p.Position == nil {
			return session.Snapshot{}, fmt.Errorf("%w: %s requires position", quantum.ErrInvalidPayload, env.Action)
		}
		return sess.SetPositionCertainty(ctx, *p.Position)
	}

	a, err := quantum.DecodeAction(env.Action, env.Data)
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Dispatch(ctx, a)
}

func decodeData(env MessageEnvelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s requires a payload", quantum.ErrInvalidPayload, env.Action)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", quantum.ErrInvalidPayload, env.Action, err)
	}
	return nil
}

// isClientError reports whether err was caused by a bad request.
func isClientError(err error) bool {
	for _, target := range []error{
		quantum.ErrUnknownAction,
		quantum.ErrInvalidPayload,
		quantum.ErrQubitIndex,
		quantum.ErrUnknownGate,
		quantum.ErrCertaintyRange,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// wsConn is one client connection. Messages are queued in send and written
// by a single goroutine; a slow client loses its oldest messages.
type wsConn struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue never blocks. It runs on session loops.
func (c *wsConn) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	for {
		select {
		case c.send <- data:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *wsConn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsConn) writeLoop(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// handleWebSocket subscribes the connection to the visitor's session and
// applies incoming envelopes. Closing the socket ends the subscription; the
// session lives on until it expires.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logging.Named(s.log, logging.WS)

	sess, cookie, err := s.resolveSession(r)
	if err != nil {
		writeOpError(w, log, err)
		return
	}
	// Upgrade ignores headers already set on w, so the cookie goes here.
	var header http.Header
	if cookie != nil {
		header = http.Header{"Set-Cookie": {cookie.String()}}
	}

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	log = log.With(zap.String("session", sess.ID()))
	c := newWSConn(conn)
	s.registerConnection(c)
	defer s.unregisterConnection(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(log)
	}()
	defer func() {
		c.close()
		<-writerDone
	}()

	unsubscribe, err := sess.Subscribe(ctx, func(ev session.Event) {
		if err := c.sendJSON(ev); err != nil {
			log.Error("failed to marshal event", zap.String("type", ev.Type), zap.Error(err))
		}
	})
	if err != nil {
		log.Warn("subscribe failed", zap.Error(err))
		return
	}
	defer unsubscribe()
	log.Debug("client connected", zap.String("remote", conn.RemoteAddr().String()))

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("unexpected close", zap.Error(err))
			}
			break
		}
		s.handleMessage(ctx, log, sess, c, message)

		select {
		case <-c.done:
			return
		case <-sess.Done():
			return
		default:
		}
	}
	log.Debug("client disconnected")
}

// handleMessage applies one envelope. State changes reach the client through
// the subscription, so only errors are answered directly.
func (s *Server) handleMessage(ctx context.Context, log *zap.Logger, sess *session.Session, c *wsConn, message []byte) {
	var env MessageEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		_ = c.sendJSON(session.Event{Type: messageError, Data: ErrorData{Error: "invalid message"}})
		return
	}

	if _, err := applyEnvelope(ctx, sess, env); err != nil {
		if !isClientError(err) {
			log.Warn("action failed", zap.String("action", env.Action), zap.Error(err))
		}
		_ = c.sendJSON(session.Event{Type: messageError, Data: ErrorData{Error: err.Error()}})
	}
}

func (s *Server) registerConnection(c *wsConn) {
	s.connMu.Lock()
	s.connections[c] = struct{}{}
	n := len(s.connections)
	s.connMu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	logging.Named(s.log, logging.WS).Debug("connection registered", zap.Int("active", n))
}

func (s *Server) unregisterConnection(c *wsConn) {
	s.connMu.Lock()
	delete(s.connections, c)
	n := len(s.connections)
	s.connMu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
	logging.Named(s.log, logging.WS).Debug("connection unregistered", zap.Int("active", n))
}

// Connections returns the number of open WebSocket connections.
func (s *Server) Connections() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

// BroadcastReload tells every connected client to reload the page.
func (s *Server) BroadcastReload() {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	if len(s.connections) == 0 {
		return
	}
	logging.Named(s.log, logging.WS).Info("broadcasting reload", zap.Int("connections", len(s.connections)))
	for c := range s.connections {
		_ = c.sendJSON(session.Event{Type: messageReload})
	}
}
