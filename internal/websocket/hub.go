package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/caseloop/caseloop/pkg/logger"
)

const (
	// Redis pub/sub channel for cross-instance activity fanout
	redisChannelActivity = "activity:broadcast"
)

// Hub maintains the set of active clients and broadcasts activity events.
// Clients are grouped by organization; an event never crosses organization
// boundaries.
type Hub struct {
	// Registered clients by organization ID
	clients map[string]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Broadcast messages to clients
	broadcast chan *BroadcastMessage

	// Redis client for pub/sub
	redisClient *redis.Client

	// Redis pub/sub
	redisPubSub *redis.PubSub

	logger *logger.Logger

	mu sync.RWMutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// BroadcastMessage represents a message to broadcast to clients
type BroadcastMessage struct {
	OrgID      string // organization the event belongs to
	Channel    string // e.g., "activity", "activity:case"
	Message    *Message
	EntityType string
	ActionID   string
	UserID     string // If set, only broadcast to this user's clients
}

// NewHub creates a new Hub
func NewHub(redisClient *redis.Client, log *logger.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *BroadcastMessage, 256),
		redisClient: redisClient,
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the hub
func (h *Hub) Start() error {
	// Subscribe to Redis pub/sub for distributed broadcasting
	if h.redisClient != nil {
		h.redisPubSub = h.redisClient.Subscribe(h.ctx, redisChannelActivity)
		go h.handleRedisPubSub()
	}

	go h.run()

	h.logger.Info("activity hub started")
	return nil
}

// Stop stops the hub
func (h *Hub) Stop() error {
	h.cancel()

	if h.redisPubSub != nil {
		h.redisPubSub.Close()
	}

	h.logger.Info("activity hub stopped")
	return nil
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.orgID] == nil {
		h.clients[client.orgID] = make(map[*Client]bool)
	}
	h.clients[client.orgID][client] = true

	h.logger.Info("client registered",
		logger.String("client_id", client.id),
		logger.String("organization_id", client.orgID),
		logger.Int("total_clients", h.getTotalClients()),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.orgID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			close(client.send)

			if len(clients) == 0 {
				delete(h.clients, client.orgID)
			}

			h.logger.Info("client unregistered",
				logger.String("client_id", client.id),
				logger.String("organization_id", client.orgID),
				logger.Int("total_clients", h.getTotalClients()),
			)
		}
	}
}

// broadcastMessage delivers a message to the subscribed clients of its
// organization
func (h *Hub) broadcastMessage(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	messageData, err := bm.Message.ToJSON()
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", logger.Err(err))
		return
	}

	clients, ok := h.clients[bm.OrgID]
	if !ok {
		return
	}

	sentCount := 0
	for client := range clients {
		if bm.UserID != "" && client.userID != bm.UserID {
			continue
		}
		if h.shouldSendToClient(client, bm) {
			h.sendToClient(client, messageData)
			sentCount++
		}
	}

	h.logger.Debug("broadcast message sent",
		logger.String("channel", bm.Channel),
		logger.String("type", string(bm.Message.Type)),
		logger.Int("recipients", sentCount),
	)
}

func (h *Hub) shouldSendToClient(client *Client, bm *BroadcastMessage) bool {
	if !client.IsSubscribed(bm.Channel) {
		return false
	}
	return client.MatchesFilters(bm.Channel, bm.EntityType, bm.ActionID)
}

func (h *Hub) sendToClient(client *Client, messageData []byte) {
	select {
	case client.send <- messageData:
	default:
		// Client's send channel is full, close the connection
		h.logger.Warn("client send channel full, closing connection",
			logger.String("client_id", client.id),
			logger.String("organization_id", client.orgID),
		)
		go client.Close()
	}
}

// Broadcast sends a message to the organization's clients (local and via Redis)
func (h *Hub) Broadcast(orgID, channel string, message *Message, entityType, actionID, userID string) {
	bm := &BroadcastMessage{
		OrgID:      orgID,
		Channel:    channel,
		Message:    message,
		EntityType: entityType,
		ActionID:   actionID,
		UserID:     userID,
	}

	// Send to local clients
	select {
	case h.broadcast <- bm:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}

	// Publish to Redis for other instances
	if h.redisClient != nil {
		h.publishToRedis(bm)
	}
}

func (h *Hub) publishToRedis(bm *BroadcastMessage) {
	data, err := json.Marshal(bm)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message for Redis", logger.Err(err))
		return
	}

	if err := h.redisClient.Publish(h.ctx, redisChannelActivity, data).Err(); err != nil {
		h.logger.Error("failed to publish to Redis", logger.Err(err))
	}
}

func (h *Hub) handleRedisPubSub() {
	ch := h.redisPubSub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-ch:
			var bm BroadcastMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				h.logger.Error("failed to unmarshal Redis message", logger.Err(err))
				continue
			}

			// Broadcast to local clients only (don't re-publish to Redis)
			select {
			case h.broadcast <- &bm:
			default:
				h.logger.Warn("broadcast channel full, dropping Redis message")
			}
		}
	}
}

// BroadcastActivityEvent broadcasts an action lifecycle event to the
// organization's activity feed
func (h *Hub) BroadcastActivityEvent(orgID string, msgType MessageType, data *ActivityEventData) {
	message, err := NewMessage(msgType, data)
	if err != nil {
		h.logger.Error("failed to create activity event message", logger.Err(err))
		return
	}

	channels := []string{
		"activity",
		fmt.Sprintf("activity:%s", data.EntityType),
	}

	for _, channel := range channels {
		h.Broadcast(orgID, channel, message, data.EntityType, data.ActionID, "")
	}
}

// GetClientCount returns the total number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.getTotalClients()
}

func (h *Hub) getTotalClients() int {
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

// GetOrgClientCount returns the number of clients for a specific organization
func (h *Hub) GetOrgClientCount(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.clients[orgID]; ok {
		return len(clients)
	}
	return 0
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"total_clients":       h.getTotalClients(),
		"total_organizations": len(h.clients),
		"channels": map[string]int{
			"register":   len(h.register),
			"unregister": len(h.unregister),
			"broadcast":  len(h.broadcast),
		},
	}
}

// ParseChannel parses a channel string and extracts the feed name and scope
func ParseChannel(channel string) (feed, scope string) {
	parts := strings.SplitN(channel, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return channel, ""
}
