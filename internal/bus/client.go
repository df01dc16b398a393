// Package bus is the client side of the daemon's websocket protocol:
// request/response correlation for token fetches plus handler dispatch
// for broadcast notifications.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/pkg/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Handler consumes a notification message for one action.
type Handler func(model.Message)

type Client struct {
	logger *zap.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan model.Message

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	done chan struct{}
}

// Dial connects to the daemon at url (ws://host:port/ws). Register
// handlers with Handle, then call Start to begin dispatching.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{
		logger:   logger,
		conn:     conn,
		pending:  make(map[string]chan model.Message),
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}, nil
}

// Handle registers a notification handler for an action. Multiple
// handlers per action are allowed; all run on the read goroutine, so
// they must not block.
func (c *Client) Handle(action string, fn Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[action] = append(c.handlers[action], fn)
}

// Start launches the read loop and keepalive pings.
func (c *Client) Start() {
	go c.readLoop()
	go c.pingLoop()
}

// Done is closed when the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Request sends msg and waits for the reply carrying the same ID.
func (c *Client) Request(ctx context.Context, msg model.Message) (model.Message, error) {
	msg.ID = uuid.NewString()

	ch := make(chan model.Message, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return model.Message{}, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-c.done:
		return model.Message{}, fmt.Errorf("connection closed awaiting %s", msg.Action)
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

// Notify sends a fire-and-forget message.
func (c *Client) Notify(msg model.Message) error {
	return c.write(msg)
}

func (c *Client) write(msg model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Action, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s: %w", msg.Action, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			return
		}

		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid message from daemon", zap.Error(err))
			continue
		}

		if msg.ID != "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
				continue
			}
		}

		c.handlersMu.RLock()
		handlers := c.handlers[msg.Action]
		c.handlersMu.RUnlock()
		if len(handlers) == 0 {
			c.logger.Debug("unhandled action", zap.String("action", msg.Action))
			continue
		}
		for _, fn := range handlers {
			fn(msg)
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// RequestToken asks the authority for its current token. An empty
// string means the authority has none.
func (c *Client) RequestToken(ctx context.Context) (string, error) {
	reply, err := c.Request(ctx, model.Message{Action: model.ActionGetToken})
	if err != nil {
		return "", err
	}
	return reply.Token, nil
}

// NotifyRefresh requests a token refresh, fire-and-forget.
func (c *Client) NotifyRefresh() error {
	return c.Notify(model.Message{Action: model.ActionRefreshToken})
}

// SendVolume publishes a new target volume.
func (c *Client) SendVolume(volume int) error {
	return c.Notify(model.Message{Action: model.ActionUpdateVolume, Volume: &volume})
}

// SendCommand forwards a transport command to the daemon.
func (c *Client) SendCommand(command string, params map[string]string) error {
	return c.Notify(model.Message{Action: model.ActionCommand, Command: command, Params: params})
}
