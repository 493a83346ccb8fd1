package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/cart"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/session"
)

// WebSocket configuration constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// CartFeed publishes cart changes.
type CartFeed interface {
	ItemCount() int
	Subscribe(fn cart.Listener) (unsubscribe func())
}

// SessionFeed publishes login and logout.
type SessionFeed interface {
	Identity() session.Identity
	Subscribe(fn session.Listener) (unsubscribe func())
}

type wsClient struct {
	send   chan model.Event
	cancel context.CancelFunc
}

// WebSocketHandler pushes cart badge and session events to connected views.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	cart     CartFeed
	session  SessionFeed

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	unsubscribe []func()
	closeOnce   sync.Once
}

// NewWebSocketHandler creates a new WebSocketHandler subscribed to the cart
// and session feeds.
func NewWebSocketHandler(cartFeed CartFeed, sessionFeed SessionFeed, logger *zap.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		logger:  logger,
		cart:    cartFeed,
		session: sessionFeed,
		clients: make(map[*websocket.Conn]*wsClient),
	}

	// Listeners run while the cart is locked, so they only enqueue.
	h.unsubscribe = append(h.unsubscribe,
		cartFeed.Subscribe(func(items []cart.LineItem) {
			h.broadcast(model.NewCartEvent(countItems(items)))
		}),
		sessionFeed.Subscribe(func(id session.Identity) {
			h.broadcast(sessionEvent(id))
		}),
	)

	return h
}

// RegisterRoutes registers the WebSocket routes with the router.
func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket connection requests. Every new client
// first receives the current cart count and session state.
//
//nolint:contextcheck // intentional: WebSocket connections outlive the HTTP request context
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	// The request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.Background())

	c := &wsClient{send: make(chan model.Event, sendBuffer), cancel: cancel}
	c.send <- model.NewCartEvent(h.cart.ItemCount())
	c.send <- sessionEvent(h.session.Identity())

	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()

	h.logger.Info("websocket client connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	go h.writePump(ctx, conn, c.send)
	go h.readPump(ctx, conn, cancel)
}

// broadcast queues ev for every client without blocking. A client whose
// buffer is full misses the event; the next one carries the full state.
func (h *WebSocketHandler) broadcast(ev model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Debug("dropping websocket event",
				zap.String("type", ev.Type),
				zap.String("remote_addr", conn.RemoteAddr().String()),
			)
		}
	}
}

// readPump handles incoming messages from the WebSocket connection.
func (h *WebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer func() {
		cancel()
		h.removeClient(conn)
		if err := conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read error", zap.Error(err))
				}
				return
			}
			h.logger.Debug("received message", zap.ByteString("message", message))
		}
	}
}

// writePump delivers queued events and keeps the connection alive.
func (h *WebSocketHandler) writePump(ctx context.Context, conn *websocket.Conn, send <-chan model.Event) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.sendCloseMessage(conn)
			return
		case ev := <-send:
			if err := h.sendEvent(conn, ev); err != nil {
				h.logger.Debug("failed to send event", zap.String("type", ev.Type), zap.Error(err))
				return
			}
		case <-pingTicker.C:
			if err := h.sendPing(conn); err != nil {
				h.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendEvent(conn *websocket.Conn, ev model.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

// sendPing sends a ping message to the connection.
func (h *WebSocketHandler) sendPing(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// sendCloseMessage sends a close message to the connection.
func (h *WebSocketHandler) sendCloseMessage(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to set write deadline for close", zap.Error(err))
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		h.logger.Debug("failed to send close message", zap.Error(err))
	}
}

// removeClient removes a client from the clients map.
func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, exists := h.clients[conn]; exists {
		c.cancel()
		delete(h.clients, conn)
		h.logger.Info("websocket client disconnected", zap.String("remote_addr", conn.RemoteAddr().String()))
	}
}

// CloseAllConnections stops listening to the feeds and closes all active
// WebSocket connections.
func (h *WebSocketHandler) CloseAllConnections() {
	h.closeOnce.Do(func() {
		for _, unsubscribe := range h.unsubscribe {
			unsubscribe()
		}
	})

	h.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(h.clients))
	for _, c := range h.clients {
		cancels = append(cancels, c.cancel)
	}
	h.mu.RUnlock()

	// Cancelling makes each writePump send a close frame.
	for _, cancel := range cancels {
		cancel()
	}

	time.Sleep(100 * time.Millisecond)

	h.mu.Lock()
	for conn := range h.clients {
		if err := conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
		delete(h.clients, conn)
	}
	h.mu.Unlock()

	h.logger.Info("all websocket connections closed")
}

func sessionEvent(id session.Identity) model.Event {
	return model.NewSessionEvent(id.Username, id.Role, id.Authenticated)
}

func countItems(items []cart.LineItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
