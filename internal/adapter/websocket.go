package adapter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/models"
)

// wsIdleTimeout closes a robot's WebSocket connection after this long
// without a dispatch, so idle robots don't hold sockets forever.
const wsIdleTimeout = 60 * time.Second

type wsDispatchEnvelope struct {
	CommandID string          `json:"command_id"`
	Type      string          `json:"type"`
	Params    json.RawMessage `json:"params"`
	TraceID   string          `json:"trace_id"`
	Timestamp string          `json:"timestamp"`
}

type wsReplyEnvelope struct {
	CommandID string          `json:"command_id"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`
}

// wsConn is one multiplexed connection to a single robot, shared by all
// in-flight dispatches to it.
type wsConn struct {
	conn       *websocket.Conn
	mu         sync.Mutex
	waiters    map[string]chan wsReplyEnvelope
	lastUsed   time.Time
	closed     bool
	closeOnce  sync.Once
}

// WebSocketAdapter dispatches commands over a persistent WebSocket
// connection per robot, reaping idle connections in the background.
type WebSocketAdapter struct {
	mu     sync.Mutex
	conns  map[string]*wsConn // robot id -> connection
	logger *common.Logger
	done   chan struct{}
}

// NewWebSocketAdapter creates a WebSocketAdapter and starts its idle
// connection reaper.
func NewWebSocketAdapter(logger *common.Logger) *WebSocketAdapter {
	a := &WebSocketAdapter{
		conns:  make(map[string]*wsConn),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.reapIdle()
	return a
}

// Protocol reports "websocket".
func (a *WebSocketAdapter) Protocol() models.Protocol { return models.ProtocolWebSocket }

func (a *WebSocketAdapter) reapIdle() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-wsIdleTimeout)
			a.mu.Lock()
			for robotID, c := range a.conns {
				c.mu.Lock()
				idle := c.lastUsed.Before(cutoff) && len(c.waiters) == 0
				c.mu.Unlock()
				if idle {
					c.close()
					delete(a.conns, robotID)
				}
			}
			a.mu.Unlock()
		}
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
	})
}

func (a *WebSocketAdapter) connFor(robot *models.RobotEntry) (*wsConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.conns[robot.RobotID]; ok && !c.closed {
		return c, nil
	}

	conn, _, err := websocket.DefaultDialer.Dial(robot.Endpoint, nil)
	if err != nil {
		return nil, apperr.New(apperr.CodeRobotOffline, "failed to dial robot websocket endpoint")
	}

	c := &wsConn{conn: conn, waiters: make(map[string]chan wsReplyEnvelope), lastUsed: time.Now()}
	a.conns[robot.RobotID] = c
	go a.readLoop(robot.RobotID, c)
	return c, nil
}

func (a *WebSocketAdapter) readLoop(robotID string, c *wsConn) {
	defer func() {
		c.close()
		a.mu.Lock()
		if a.conns[robotID] == c {
			delete(a.conns, robotID)
		}
		a.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var reply wsReplyEnvelope
		if err := json.Unmarshal(data, &reply); err != nil {
			a.logger.Warn().Err(err).Msg("failed to decode websocket reply")
			continue
		}
		c.mu.Lock()
		waiter, ok := c.waiters[reply.CommandID]
		c.mu.Unlock()
		if ok {
			select {
			case waiter <- reply:
			default:
			}
		}
	}
}

// Dispatch sends the command as a JSON text frame over the robot's
// persistent connection and waits for a matching reply frame.
func (a *WebSocketAdapter) Dispatch(ctx context.Context, robot *models.RobotEntry, req DispatchRequest) (*DispatchResult, error) {
	c, err := a.connFor(robot)
	if err != nil {
		return nil, err
	}

	waiter := make(chan wsReplyEnvelope, 1)
	c.mu.Lock()
	c.waiters[req.CommandID] = waiter
	c.lastUsed = time.Now()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, req.CommandID)
		c.mu.Unlock()
	}()

	body, err := json.Marshal(wsDispatchEnvelope{
		CommandID: req.CommandID,
		Type:      req.Type,
		Params:    req.Params,
		TraceID:   req.TraceID,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, "failed to encode websocket dispatch body")
	}

	c.mu.Lock()
	writeErr := c.conn.WriteMessage(websocket.TextMessage, body)
	c.mu.Unlock()
	if writeErr != nil {
		c.close()
		return nil, apperr.New(apperr.CodeRobotOffline, "failed to write to robot websocket connection")
	}

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, apperr.New(apperr.CodeTimeout, "dispatch cancelled before robot replied")
	case <-timer.C:
		return nil, apperr.New(apperr.CodeTimeout, "robot did not reply before timeout")
	case reply := <-waiter:
		if reply.Error != "" {
			return nil, apperr.New(apperr.CodeActionInvalid, reply.Error)
		}
		return &DispatchResult{Result: reply.Result}, nil
	}
}

// Close stops the idle reaper and closes all robot connections.
func (a *WebSocketAdapter) Close() error {
	close(a.done)
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.conns {
		c.close()
	}
	a.conns = make(map[string]*wsConn)
	return nil
}
