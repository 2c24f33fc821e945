package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Constants for WebSocket configuration (adjust as needed)
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024

	// registry and inbound queue depth
	queueSize = 256
)

// CloseLagged is sent to a client whose event queue overflowed. It should reconnect and start
// again from a fresh snapshot.
const CloseLagged = websocket.CloseTryAgainLater

// Hub keeps the registry of connected clients and collects their inbound messages.
// Fan-out itself is done by the broadcast layer, each client streams its own subscription.
type Hub struct {
	mu sync.RWMutex
	// Registered clients, grouped by auction ID.
	clients map[string]map[*Client]bool
	// Register requests from the clients.
	register chan *Client
	// Unregister requests from clients.
	unregister      chan *Client
	InboundMessages chan *ClientMessage // listened to by module-specific handlers (e.g, auction handler)
}

// Client represents a ws individual connection
type Client struct {
	Hub *Hub
	// The websocket connection.
	Conn *websocket.Conn
	// Buffered channel of direct replies to this client only.
	Send chan []byte
	// Auction events, snapshot first.
	Sub *broadcast.Subscription
	// The auction ID this client is connected to.
	AuctionID string
	// Caller identity as supplied by the upstream gateway, may be empty for watchers.
	UserID string
	// Unique identifier for the client
	ID string
}

// ClientMessage is used for wraping the client and data message received.
// is used to send inbound messages from the client to the hub handlers
type ClientMessage struct {
	Client *Client
	Data   []byte
}

func NewHub() *Hub {
	return &Hub{
		register:        make(chan *Client, queueSize),
		unregister:      make(chan *Client, queueSize),
		clients:         make(map[string]map[*Client]bool),
		InboundMessages: make(chan *ClientMessage, queueSize),
	}
}

// Run starts the hub listening in their channels
func (h *Hub) Run(ctx context.Context) {
	log.Info("WebSocket Hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info("WebSocket Hub shutting down", zap.Int("total_clients", h.Count()))
			h.closeAll()
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.AuctionID]; !ok {
		h.clients[client.AuctionID] = make(map[*Client]bool)
	}
	h.clients[client.AuctionID][client] = true
	h.mu.Unlock()

	log.Info("Client registered",
		zap.String("clientID", client.ID),
		zap.String("auctionID", client.AuctionID),
		zap.Int("total_clients", h.Count()),
	)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	clients, ok := h.clients[client.AuctionID]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, client.AuctionID)
	}
	h.mu.Unlock()

	log.Info("Client unregistered",
		zap.String("clientID", client.ID),
		zap.String("auctionID", client.AuctionID),
		zap.Int("total_clients", h.Count()),
	)
}

// closeAll drops every connection on shutdown, their pumps exit on the read error.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for auctionID, clients := range h.clients {
		for client := range clients {
			if client.Conn != nil {
				_ = client.Conn.Close()
			}
		}
		delete(h.clients, auctionID)
	}
}

// Count returns the number of registered clients across all auctions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, auctionClients := range h.clients {
		count += len(auctionClients)
	}
	return count
}

// Clients returns the number of registered clients watching auctionID.
func (h *Hub) Clients(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[auctionID])
}

// RegisterClient register a new client in the hub
func (h *Hub) RegisterClient(client *Client) {
	select { // Use select to avoid blocking if channel is full
	case h.register <- client:
		log.Debug("Client queued for registration",
			zap.String("clientID", client.ID),
			zap.String("auctionID", client.AuctionID),
		)
	default:
		log.Error("Register channel is full, client registration failed",
			zap.String("clientID", client.ID),
			zap.String("auctionID", client.AuctionID),
		)
		if client.Conn != nil {
			_ = client.Conn.Close()
		}
	}
}

// UnregisterClient delete a client from the hub
func (h *Hub) UnregisterClient(client *Client) {
	select { // Use select to avoid blocking if channel is full
	case h.unregister <- client:
		log.Debug("Client queued for unregistration",
			zap.String("clientID", client.ID),
			zap.String("auctionID", client.AuctionID),
		)
	default:
		log.Error("Unregister channel is full, client unregistration failed",
			zap.String("clientID", client.ID),
			zap.String("auctionID", client.AuctionID),
		)
	}
}

// Reply queues data for this client only. It never blocks, a full queue drops the reply.
func (c *Client) Reply(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		log.Warn("Client send channel full, reply dropped",
			zap.String("clientID", c.ID),
			zap.String("auctionID", c.AuctionID),
		)
		return false
	}
}

// ReadPump reads client messages and forwards them to Hub.InboundMessages.
// It runs in the connection's handler goroutine and returns when the peer goes away.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.UnregisterClient(c)
		log.Info("ReadPump stopped for client",
			zap.String("clientID", c.ID),
			zap.String("auctionID", c.AuctionID),
		)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("WebSocket read error",
					zap.String("clientID", c.ID),
					zap.String("auctionID", c.AuctionID),
					zap.Error(err),
				)
			} else {
				log.Info("WebSocket connection closed by peer",
					zap.String("clientID", c.ID),
					zap.String("auctionID", c.AuctionID),
					zap.Error(err),
				)
			}
			return
		}

		log.Debug("Received message from client",
			zap.String("clientID", c.ID),
			zap.String("auctionID", c.AuctionID),
			zap.ByteString("message", message),
		)

		select {
		case c.Hub.InboundMessages <- &ClientMessage{Client: c, Data: message}:
		default:
			// handlers are not keeping up, tell this client instead of queueing without bound
			log.Error("Hub InboundMessages channel is full, dropping message",
				zap.String("clientID", c.ID),
				zap.String("auctionID", c.AuctionID),
			)
			c.Reply([]byte(`{"type":"server_error","payload":{"reason":"contended","error":"server busy, retry"}}`))
		}
	}
}

// WritePump streams the subscription's events and the client's direct replies to the
// connection. It is the only writer of the connection.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
		log.Info("WritePump stopped for client",
			zap.String("clientID", c.ID),
			zap.String("auctionID", c.AuctionID),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			c.writeClose(websocket.CloseNormalClosure, "")
			return

		case event, ok := <-c.Sub.Events():
			if !ok {
				// the bus dropped us, either lagged or unsubscribed
				if c.Sub.Lagged() {
					log.Warn("Client lagged behind auction stream, closing",
						zap.String("clientID", c.ID),
						zap.String("auctionID", c.AuctionID),
					)
					c.writeClose(CloseLagged, "lagged, reconnect for a fresh snapshot")
				} else {
					c.writeClose(websocket.CloseNormalClosure, "")
				}
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Error("Failed to marshal auction event", zap.String("clientID", c.ID), zap.Error(err))
				continue
			}
			if !c.write(data) {
				return
			}

		case message := <-c.Send:
			if !c.write(message) {
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error("Failed to write ping message to client",
					zap.String("clientID", c.ID),
					zap.String("auctionID", c.AuctionID),
					zap.Error(err),
				)
				return
			}
		}
	}
}

func (c *Client) write(data []byte) bool {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Error("Failed to write message to client",
			zap.String("clientID", c.ID),
			zap.String("auctionID", c.AuctionID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (c *Client) writeClose(code int, text string) {
	err := c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	if err != nil {
		log.Debug("Failed to send close control message",
			zap.String("clientID", c.ID),
			zap.String("auctionID", c.AuctionID),
			zap.Error(err),
		)
	}
}
