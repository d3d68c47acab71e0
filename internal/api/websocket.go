package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/pglive/internal/identity"
	"github.com/nerrad567/pglive/internal/infrastructure/config"
	"github.com/nerrad567/pglive/internal/infrastructure/logging"
	"github.com/nerrad567/pglive/internal/live"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a message sent to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSRequest is a message received from a WebSocket client. Payload holds
// live.Args for subscribe requests.
type WSRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub tracks connected WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one WebSocket connection and the subscriptions it holds.
//
// Thread Safety:
//   - readPump owns subscribe and unsubscribe handling.
//   - Each subscription has one forward goroutine writing to send.
//   - quit is closed once, by whichever pump stops first.
type WSClient struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	manager  *live.Manager
	sessions SessionFactory
	identity identity.Identity
	logger   *logging.Logger
	ctx      context.Context
	forwards sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once

	mu   sync.Mutex
	subs map[string]*forwarder
	done bool
}

// forwarder relays one subscription's deliveries to the client.
type forwarder struct {
	sub  *live.Subscription
	stop chan struct{}
	done chan struct{}
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll closes every client connection. Each readPump then fails,
// closes its subscriptions and unregisters.
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the connection. Subscriptions opened on it run
// access checks as the identity resolved from the upgrade request.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		manager:  s.manager,
		sessions: s.sessions,
		identity: id,
		logger:   s.logger.With("role", id.Role, "remote", r.RemoteAddr),
		ctx:      context.WithoutCancel(r.Context()),
		quit:     make(chan struct{}),
		subs:     make(map[string]*forwarder),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection. When the
// connection ends it closes every subscription the client holds.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.closeSubscriptions()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.stopForwarding()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe opens a live subscription on a fresh storage session
// and starts forwarding its deliveries. The request id names the
// subscription on this connection; the subscription's own id is used when
// the client sends none.
func (c *WSClient) handleSubscribe(msg WSRequest) {
	var args live.Args
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &args); err != nil {
			c.sendError(msg.ID, "invalid subscribe payload")
			return
		}
	}

	c.mu.Lock()
	_, taken := c.subs[msg.ID]
	c.mu.Unlock()
	if msg.ID != "" && taken {
		c.sendError(msg.ID, "subscription id already in use")
		return
	}

	session, err := c.sessions(c.identity)
	if err != nil {
		c.logger.Warn("opening storage session failed", "error", err)
		c.sendError(msg.ID, "storage session unavailable")
		return
	}

	sub, err := c.manager.Subscribe(c.ctx, args, session)
	if err != nil {
		c.logger.Debug("subscribe rejected", "error", err)
		c.sendError(msg.ID, subscribeErrorMessage(err))
		return
	}

	key := msg.ID
	if key == "" {
		key = sub.ID()
	}

	fw := &forwarder{sub: sub, stop: make(chan struct{}), done: make(chan struct{})}
	c.mu.Lock()
	if _, taken := c.subs[key]; c.done || taken {
		c.mu.Unlock()
		sub.Close() //nolint:errcheck // Never exposed to the client
		c.sendError(msg.ID, "subscription id already in use")
		return
	}
	c.subs[key] = fw
	c.forwards.Add(1)
	c.mu.Unlock()

	c.sendResponse(key, WSTypeResponse, map[string]any{
		"subscribed":   sub.Topics(),
		"subscription": sub.ID(),
	})
	go c.forward(key, fw)
}

// subscribeErrorMessage maps live errors to client-facing text. Broker
// failures are not detailed.
func subscribeErrorMessage(err error) string {
	if errors.Is(err, live.ErrSubscribeFailed) {
		return live.ErrSubscribeFailed.Error()
	}
	return err.Error()
}

// forward relays deliveries as events until the subscription closes, the
// forwarder is stopped or the connection ends. Sends block so a slow client
// pushes back on the subscription's gate, which then keeps only the newest
// change.
func (c *WSClient) forward(key string, fw *forwarder) {
	defer c.forwards.Done()
	defer close(fw.done)

	for d := range fw.sub.Deliveries() {
		data, err := encodeMessage(key, WSTypeEvent, d)
		if err != nil {
			c.logger.Warn("encoding delivery", "subscription", fw.sub.ID(), "error", err)
			continue
		}
		select {
		case c.send <- data:
		case <-fw.stop:
			return
		case <-c.quit:
			return
		}
	}
}

// handleUnsubscribe closes the subscription named by the request id. The
// reply is sent once its forwarder has stopped, so no event for it follows.
func (c *WSClient) handleUnsubscribe(msg WSRequest) {
	c.mu.Lock()
	fw, ok := c.subs[msg.ID]
	delete(c.subs, msg.ID)
	c.mu.Unlock()

	if !ok {
		c.sendError(msg.ID, "unknown subscription")
		return
	}
	c.closeForwarder(fw)
	<-fw.done

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": fw.sub.Topics(),
	})
}

func (c *WSClient) closeForwarder(fw *forwarder) {
	close(fw.stop)
	if err := fw.sub.Close(); err != nil {
		c.logger.Warn("closing subscription", "subscription", fw.sub.ID(), "error", err)
	}
}

// stopForwarding releases every forwarder blocked on send.
func (c *WSClient) stopForwarding() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// closeSubscriptions closes everything the client holds and waits for
// the forwarders to exit.
func (c *WSClient) closeSubscriptions() {
	c.stopForwarding()

	c.mu.Lock()
	c.done = true
	subs := c.subs
	c.subs = make(map[string]*forwarder)
	c.mu.Unlock()

	for _, fw := range subs {
		c.closeForwarder(fw)
	}
	c.forwards.Wait()
}

// trySend attempts to send a control reply to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client). Deliveries go through forward instead.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		c.logger.Debug("websocket send buffer full, message skipped")
	}
}

// sendResponse sends a message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := encodeMessage(id, msgType, payload)
	if err != nil {
		return
	}
	c.trySend(data)
}

func encodeMessage(id, msgType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
