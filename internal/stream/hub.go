package stream

import (
	"context"
	"encoding/json"
	"sync"
)

// Topic names scope live updates to one record.
func RideTopic(riderID string) string    { return "ride:" + riderID }
func DriverTopic(driverID string) string { return "driver:" + driverID }
func ChatTopic(chatID string) string     { return "chat:" + chatID }
func NotifyTopic(riderID string) string  { return "notify:" + riderID }

// Event is one live update on a topic. Data carries the updated record.
type Event struct {
	Topic  string          `json:"topic"`
	Kind   string          `json:"kind"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin,omitempty"`
}

// Hub fans events out to per-topic subscribers. Every subscription is
// scoped to a context and torn down when it is cancelled, so an
// abandoned view cannot leak its listener.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	forward func(Event)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

type Subscription struct {
	topic string
	ch    chan Event
	hub   *Hub
	once  sync.Once
}

// Events is closed once the subscription is cancelled.
func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

// Subscribe registers a listener on topic. The subscription closes
// itself when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, topic string) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan Event, 16), hub: h}
	h.mu.Lock()
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.topic)
		}
	}
}

// Publish marshals v and delivers it to local subscribers, then to the
// cross-process forwarder when one is attached.
func (h *Hub) Publish(topic, kind string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	ev := Event{Topic: topic, Kind: kind, Data: data}
	h.deliver(ev)
	h.mu.RLock()
	forward := h.forward
	h.mu.RUnlock()
	if forward != nil {
		forward(ev)
	}
}

// deliver sends to local subscribers only. Slow consumers drop events
// rather than block the publisher; consumers re-read current state on
// reconnect, so delivery stays at-least-once per connected listener.
func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

func (h *Hub) setForward(f func(Event)) {
	h.mu.Lock()
	h.forward = f
	h.mu.Unlock()
}
