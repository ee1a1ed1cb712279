// Package relay fans execution events out to WebSocket and SSE
// subscribers, optionally bridged across instances through Redis PubSub.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lyzr/flowrunner/engine/event"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// subscriptionBuffer sizes each subscriber's send channel; bursts beyond
// it mark the subscriber as slow and drop it.
const subscriptionBuffer = 512

// Subscription is one consumer's position in the hub. An empty execution
// id subscribes to every execution (the firehose).
type Subscription struct {
	executionID string
	send        chan []byte
	closeOnce   sync.Once
}

// Events returns the subscriber's receive channel. The hub closes it when
// the subscription is dropped.
func (s *Subscription) Events() <-chan []byte {
	return s.send
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Message represents an event payload to be broadcast
type Message struct {
	ExecutionID string
	Data        []byte
}

// Hub maintains active subscriptions and broadcasts execution events to
// them. Subscriptions are keyed by execution id; the empty key receives
// all events.
type Hub struct {
	// Map: execution id → []*Subscription
	subscriptions map[string][]*Subscription
	mutex         sync.RWMutex

	// Channel for registering subscriptions
	register chan *Subscription

	// Channel for unregistering subscriptions
	unregister chan *Subscription

	// Channel for broadcasting messages
	broadcast chan *Message

	logger Logger
}

// NewHub creates a new Hub instance
func NewHub(logger Logger) *Hub {
	return &Hub{
		subscriptions: make(map[string][]*Subscription),
		register:      make(chan *Subscription),
		unregister:    make(chan *Subscription),
		broadcast:     make(chan *Message, 256),
		logger:        logger,
	}
}

// Run starts the hub's main loop; it returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("relay hub started")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("relay hub stopped")
			return

		case sub := <-h.register:
			h.registerSubscription(sub)

		case sub := <-h.unregister:
			h.removeSubscription(sub)

		case message := <-h.broadcast:
			h.broadcastToExecution(message)
		}
	}
}

// Subscribe registers a consumer for one execution's events, or for all
// events when executionID is empty.
func (h *Hub) Subscribe(executionID string) *Subscription {
	sub := &Subscription{
		executionID: executionID,
		send:        make(chan []byte, subscriptionBuffer),
	}
	h.register <- sub
	return sub
}

// Unsubscribe drops a subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.unregister <- sub
}

// Broadcast queues an event payload for fan-out.
func (h *Hub) Broadcast(executionID string, data []byte) {
	h.broadcast <- &Message{ExecutionID: executionID, Data: data}
}

// Sink adapts the hub into an event sink the runner can emit into
// directly when no Redis bridge is configured.
func (h *Hub) Sink() event.Sink {
	return func(ev event.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
			return
		}
		h.Broadcast(ev.ExecutionID, data)
	}
}

// registerSubscription adds a subscription to the hub
func (h *Hub) registerSubscription(sub *Subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.subscriptions[sub.executionID] = append(h.subscriptions[sub.executionID], sub)
	h.logger.Debug("subscriber registered",
		"execution_id", sub.executionID,
		"total_for_key", len(h.subscriptions[sub.executionID]))
}

// removeSubscription removes a subscription from the hub
func (h *Hub) removeSubscription(sub *Subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	subs := h.subscriptions[sub.executionID]
	for i, s := range subs {
		if s == sub {
			h.subscriptions[sub.executionID] = append(subs[:i], subs[i+1:]...)
			if len(h.subscriptions[sub.executionID]) == 0 {
				delete(h.subscriptions, sub.executionID)
			}
			break
		}
	}
	sub.close()
}

// broadcastToExecution sends a message to the execution's subscribers and
// to every firehose subscriber.
func (h *Hub) broadcastToExecution(message *Message) {
	var slow []*Subscription

	h.mutex.RLock()
	targets := h.subscriptions[message.ExecutionID]
	if message.ExecutionID != "" {
		targets = append(targets[:len(targets):len(targets)], h.subscriptions[""]...)
	}
	for _, sub := range targets {
		select {
		case sub.send <- message.Data:
			// Message sent successfully
		default:
			// Subscriber's buffer is full; drop it rather than stall the hub.
			slow = append(slow, sub)
		}
	}
	h.mutex.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("subscriber too slow, dropping",
			"execution_id", sub.executionID)
		h.removeSubscription(sub)
	}
}

// closeAll drops every subscription; used on shutdown.
func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for key, subs := range h.subscriptions {
		for _, sub := range subs {
			sub.close()
		}
		delete(h.subscriptions, key)
	}
}

// GetConnectionCount returns the total number of active subscriptions
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, subs := range h.subscriptions {
		count += len(subs)
	}
	return count
}
