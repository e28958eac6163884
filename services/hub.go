package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"geoquiz/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 10 * time.Second
	sendBuffer = 256
)

var ErrHubClosed = errors.New("hub closed")

// Hub tracks websocket clients. Each client is its own SessionClient, so it
// holds the account's presence claim and streams its session's events.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	manager    *SessionManager
	store      store.Store
	heartbeat  time.Duration
	logger     *zap.Logger
}

type Client struct {
	hub       *Hub
	id        string
	socket    *websocket.Conn
	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
	code      string
	accountID string
	session   *SessionClient
}

type outbound struct {
	data []byte
	last bool
}

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func NewHub(manager *SessionManager, st store.Store, heartbeat time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		manager:    manager,
		store:      st,
		heartbeat:  heartbeat,
		logger:     logger,
	}
}

// Run serves registrations until ctx is done. A hub does not restart.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.shutdown()
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client registered",
				zap.String("client_id", client.id),
				zap.String("code", client.code),
				zap.String("player_id", client.accountID),
				zap.Int("clients", total))

		case client := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			total := len(h.clients)
			h.mutex.Unlock()
			if ok {
				client.shutdown()
				h.logger.Info("client unregistered",
					zap.String("client_id", client.id),
					zap.String("code", client.code),
					zap.String("player_id", client.accountID),
					zap.Int("clients", total))
			}
		}
	}
}

// RegisterClient claims the account for this connection, attaches it to the
// session and starts the pumps.
func (h *Hub) RegisterClient(ctx context.Context, conn *websocket.Conn, id Identity, code string) (*Client, error) {
	sc := NewSessionClient(h.manager, h.store, ClientConfig{HeartbeatInterval: h.heartbeat}, h.logger.With(zap.String("player_id", id.AccountID)))
	if err := sc.Login(ctx, id); err != nil {
		return nil, err
	}
	if err := sc.Watch(ctx, code); err != nil {
		_ = sc.Logout(ctx)
		return nil, err
	}

	client := &Client{
		hub:       h,
		id:        uuid.NewString(),
		socket:    conn,
		send:      make(chan outbound, sendBuffer),
		done:      make(chan struct{}),
		code:      code,
		accountID: id.AccountID,
		session:   sc,
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = sc.Logout(ctx)
		return nil, ErrHubClosed
	}

	client.queue(Message{Type: "state", Payload: sc.Session()}, false)
	go client.writePump()
	go client.readPump()
	go client.forward()
	return client, nil
}

// ConnectedPlayers lists the accounts with an open socket on code.
func (h *Hub) ConnectedPlayers(code string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	var ids []string
	for client := range h.clients {
		if client.code == code {
			ids = append(ids, client.accountID)
		}
	}
	return ids
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.session.Disconnect(ctx); err != nil {
			c.hub.logger.Warn("presence cleanup failed", zap.String("client_id", c.id), zap.Error(err))
		}
		c.socket.Close()
	})
}

func (c *Client) queue(msg Message, last bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	select {
	case c.send <- outbound{data: data, last: last}:
	case <-c.done:
	default:
		c.hub.logger.Warn("send buffer full, closing connection", zap.String("client_id", c.id))
		go c.leave()
	}
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.done:
	case <-c.hub.done:
	}
}

func (c *Client) forward() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.session.Events():
			last := ev.Type == EventForcedLogout
			c.queue(Message{Type: string(ev.Type), Payload: ev}, last)
			if last || ev.Type == EventSessionDeleted {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer c.leave()

	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(pongWait))
		c.beat()
		return nil
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Info("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		c.socket.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug("ignoring malformed message", zap.String("client_id", c.id), zap.Error(err))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case <-c.done:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case out := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.TextMessage, out.data); err != nil {
				go c.leave()
				return
			}
			if out.last {
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "signed in elsewhere")
				c.socket.WriteMessage(websocket.CloseMessage, msg)
				go c.leave()
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.leave()
				return
			}
		}
	}
}

func (c *Client) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.session.Heartbeat(ctx); err != nil {
		c.hub.logger.Debug("heartbeat rejected", zap.String("client_id", c.id), zap.Error(err))
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		c.queue(Message{Type: "pong", Payload: "pong"}, false)

	case "heartbeat":
		c.beat()

	case "request_state":
		c.queue(Message{Type: "state", Payload: c.session.Session()}, false)

	default:
		c.hub.logger.Debug("unknown message type",
			zap.String("type", msg.Type),
			zap.String("client_id", c.id),
			zap.String("code", c.code))
	}
}
