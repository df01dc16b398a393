// Package hub runs the daemon-side websocket hub. Watchers and control
// clients connect here; the hub routes their action messages to the
// token authority, the store, and the Spotify client, and fans
// broadcasts back out to every connected client.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/ratelimit"
	"github.com/spotiduck/spotiduck/internal/spotify"
	"github.com/spotiduck/spotiduck/internal/store"
	"github.com/spotiduck/spotiduck/pkg/model"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 1024
	maxMessageSize  = 4096
	sendBufferSize  = 16

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// opTimeout bounds store and API work done on behalf of a single
	// incoming message.
	opTimeout = 15 * time.Second
)

// TokenAuthority is the hub's view of the token owner.
type TokenAuthority interface {
	Token() string
	SetToken(ctx context.Context, token string) error
	Refresh(ctx context.Context) error
}

// Commander executes transport commands against the playback API.
type Commander interface {
	Command(ctx context.Context, token, command string, params map[string]string) error
}

type Hub struct {
	logger    *zap.Logger
	authority TokenAuthority
	commander Commander
	store     store.Store

	upgrader     websocket.Upgrader
	refreshLimit *ratelimit.Limiter

	clientsMu sync.Mutex
	clients   map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan outbound
}

type outbound struct {
	payload []byte
	exclude *client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func New(logger *zap.Logger, authority TokenAuthority, commander Commander, s store.Store) *Hub {
	return &Hub{
		logger:    logger,
		authority: authority,
		commander: commander,
		store:     s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// The daemon binds to localhost; connections come from our
			// own processes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		refreshLimit: ratelimit.New(ratelimit.DefaultRefreshLimit, ratelimit.DefaultWindow),
		clients:      make(map[*client]struct{}),
		register:     make(chan *client),
		unregister:   make(chan *client),
		broadcast:    make(chan outbound, 256),
	}
}

// Run owns the client set. It returns when ctx is canceled, closing
// every connection on the way out.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.clientsMu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.clientsMu.Unlock()
			return

		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.clientsMu.Unlock()
			h.logger.Info("client connected",
				zap.String("clientID", c.id),
				zap.Int("clients", count))

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.clientsMu.Unlock()
			h.refreshLimit.Forget(c.id)
			h.logger.Info("client disconnected",
				zap.String("clientID", c.id),
				zap.Int("clients", count))

		case out := <-h.broadcast:
			h.clientsMu.Lock()
			for c := range h.clients {
				if c == out.exclude {
					continue
				}
				select {
				case c.send <- out.payload:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.clientsMu.Unlock()
		}
	}
}

// Handler upgrades an HTTP request to a hub connection and pushes the
// current token and target volume to the new client.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, sendBufferSize),
			hub:  h,
		}
		h.register <- c

		go c.writePump()
		go c.readPump()

		h.sendSnapshot(c)
	}
}

// TokenRefreshed implements auth.Notifier: fan the new token out to
// every connected client so no watcher re-refreshes on its own.
func (h *Hub) TokenRefreshed(token string) {
	h.publish(model.Message{Action: model.ActionTokenRefreshed, Token: token}, nil)
}

func (h *Hub) sendSnapshot(c *client) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	volume := store.TargetVolume(ctx, h.store)
	c.enqueue(model.Message{
		Action: model.ActionSnapshot,
		Token:  h.authority.Token(),
		Volume: &volume,
	})
}

func (h *Hub) publish(msg model.Message, exclude *client) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.Error(err))
		return
	}
	h.broadcast <- outbound{payload: payload, exclude: exclude}
}

func (h *Hub) route(c *client, msg model.Message) {
	switch msg.Action {
	case model.ActionGetToken:
		c.enqueue(model.Message{
			Action: model.ActionGetToken,
			ID:     msg.ID,
			Token:  h.authority.Token(),
		})

	case model.ActionUpdateToken:
		if msg.Token == "" {
			h.logger.Warn("updateToken without token", zap.String("clientID", c.id))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := h.authority.SetToken(ctx, msg.Token); err != nil {
			h.logger.Error("store supplied token", zap.Error(err))
		}

	case model.ActionRefreshToken:
		if !h.refreshLimit.Allow(c.id) {
			h.logger.Warn("refresh request rate limited", zap.String("clientID", c.id))
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			if err := h.authority.Refresh(ctx); err != nil {
				h.logger.Error("token refresh failed", zap.Error(err))
			}
		}()

	case model.ActionUpdateVolume:
		if msg.Volume == nil {
			h.logger.Warn("updateVolume without volume", zap.String("clientID", c.id))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := store.SaveTargetVolume(ctx, h.store, *msg.Volume); err != nil {
			h.logger.Warn("reject volume update", zap.Int("volume", *msg.Volume), zap.Error(err))
			return
		}
		h.logger.Info("target volume updated", zap.Int("volume", *msg.Volume))
		h.publish(msg, c)

	case model.ActionCommand:
		go h.runCommand(msg)

	default:
		h.logger.Warn("unknown action",
			zap.String("action", msg.Action),
			zap.String("clientID", c.id))
	}
}

func (h *Hub) runCommand(msg model.Message) {
	token := h.authority.Token()
	if token == "" {
		h.logger.Error("no access token available", zap.String("command", msg.Command))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := h.commander.Command(ctx, token, msg.Command, msg.Params)
	if errors.Is(err, spotify.ErrTokenExpired) {
		if err := h.authority.Refresh(ctx); err != nil {
			h.logger.Error("token refresh failed", zap.Error(err))
		}
		return
	}
	if err != nil {
		h.logger.Error("spotify command failed",
			zap.String("command", msg.Command),
			zap.Error(err))
	}
}

func (c *client) enqueue(msg model.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.logger.Warn("send buffer full, dropping message",
			zap.String("clientID", c.id),
			zap.String("action", msg.Action))
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Warn("invalid message",
				zap.String("clientID", c.id),
				zap.Error(err))
			continue
		}
		c.hub.route(c, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
