package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// ChannelAll receives every listing event regardless of category.
	ChannelAll = "all"
)

// Hub maintains channel -> set of connections and broadcasts listing events.
// Uses Redis pub/sub for horizontal scaling: publish to Redis, and every
// instance's subscriber fans the event out to its local clients.
type Hub struct {
	channels map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per channel
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishChannelEvent(channel, event string, payload []byte) error
}

// RedisSubscriber subscribes to feed channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeChannel(channel string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to its channel. Starts the Redis subscription for the channel if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.channels[c.Channel] == nil {
		h.channels[c.Channel] = make(map[string]*Client)
		if h.redisSub != nil {
			channel := c.Channel
			cancel, err := h.redisSub.SubscribeChannel(channel, func(event string, payload []byte) {
				h.Broadcast(channel, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.Error(err), zap.String("channel", channel))
			} else {
				h.subs[channel] = cancel
			}
		}
	}
	h.channels[c.Channel][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined feed", zap.String("client_id", c.ID), zap.String("channel", c.Channel))
}

// Unregister removes a client. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.channels[c.Channel]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.channels, c.Channel)
			if cancel, ok := h.subs[c.Channel]; ok {
				cancel()
				delete(h.subs, c.Channel)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left feed", zap.String("client_id", c.ID), zap.String("channel", c.Channel))
}

// Broadcast sends a message to all local clients of a channel.
func (h *Hub) Broadcast(channel, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.channels[channel] {
		select {
		case c.send <- msg:
		default:
			// slow reader, drop
		}
	}
}

// Publish delivers an event to every instance's clients on channel. With Redis
// it only publishes, so the subscriber broadcasts once including locally.
func (h *Hub) Publish(channel, event string, payload interface{}) {
	if h.redis == nil {
		h.Broadcast(channel, event, payload)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.redis.PublishChannelEvent(channel, event, data); err != nil {
		h.logger.Warn("redis publish failed, broadcasting locally", zap.Error(err), zap.String("channel", channel))
		h.Broadcast(channel, event, json.RawMessage(data))
	}
}

// ClientCount returns the number of local clients on a channel.
func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
