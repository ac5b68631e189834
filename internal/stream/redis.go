package stream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const bridgeChannel = "rider-api:events"

// RedisBridge relays hub events through a Redis pub/sub channel so every
// server instance sees writes made by any other instance (or by the
// location consumer).
type RedisBridge struct {
	hub    *Hub
	client *redis.Client
	id     string
	logger *slog.Logger
}

func NewRedisBridge(hub *Hub, addr, password string, logger *slog.Logger) *RedisBridge {
	b := &RedisBridge{
		hub:    hub,
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		id:     newBridgeID(),
		logger: logger,
	}
	hub.setForward(b.publish)
	return b
}

func (b *RedisBridge) publish(ev Event) {
	ev.Origin = b.id
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, bridgeChannel, payload).Err(); err != nil {
		b.logger.Warn("stream bridge publish failed", "error", err)
	}
}

// Run pumps remote events into the local hub until ctx is cancelled.
// Events originating from this instance are skipped; the hub already
// delivered them locally.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, bridgeChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("stream bridge bad payload", "error", err)
				continue
			}
			if ev.Origin == b.id {
				continue
			}
			b.hub.deliver(ev)
		}
	}
}

func (b *RedisBridge) Close() error { return b.client.Close() }

func newBridgeID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
