package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

var ErrEmptyMessage = errors.New("chat: empty message")

// Service is the append-only in-ride chat. The channel/ride association
// is established by whoever hands out the chat ID; messages keep their
// append order and are never edited or deleted.
type Service struct {
	Store store.Store
	Hub   *stream.Hub
}

func (s *Service) Send(ctx context.Context, chatID, text, senderName, riderID string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	msg := models.Message{
		Text:       text,
		SenderName: senderName,
		RiderID:    riderID,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.Store.AppendMessage(ctx, chatID, msg); err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}
	if s.Hub != nil {
		s.Hub.Publish(stream.ChatTopic(chatID), "chat.message", msg)
	}
	return msg, nil
}

// Messages returns the channel in append order. Consumers must not
// re-sort by timestamp.
func (s *Service) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	return s.Store.Messages(ctx, chatID)
}
