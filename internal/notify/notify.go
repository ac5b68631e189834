package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

// Service is the append-only per-rider notification feed. System events
// push unread entries; riders clear them in one bulk mark-as-read.
type Service struct {
	Store store.Store
	Hub   *stream.Hub
}

func (s *Service) Push(ctx context.Context, riderID, text string) error {
	n := models.Notification{Text: text, Timestamp: time.Now().UTC(), Mark: models.MarkUnread}
	if err := s.Store.PushNotification(ctx, riderID, n); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	if s.Hub != nil {
		s.Hub.Publish(stream.NotifyTopic(riderID), "notification", n)
	}
	return nil
}

// Unread returns unread entries sorted newest-first. Entries without a
// timestamp sort as epoch 0, i.e. oldest.
func (s *Service) Unread(ctx context.Context, riderID string) ([]models.Notification, error) {
	all, err := s.Store.Notifications(ctx, riderID)
	if err != nil {
		return nil, err
	}
	return FilterUnread(all), nil
}

// FilterUnread is the pure filter-then-sort step, split out so it can be
// applied to any snapshot of the feed.
func FilterUnread(all []models.Notification) []models.Notification {
	out := make([]models.Notification, 0, len(all))
	for _, n := range all {
		if n.Mark == models.MarkUnread {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return epochSeconds(out[i].Timestamp) > epochSeconds(out[j].Timestamp)
	})
	return out
}

func epochSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// MarkAllRead rewrites every entry to read in one bulk write. Calling it
// again is a no-op.
func (s *Service) MarkAllRead(ctx context.Context, riderID string) error {
	if err := s.Store.MarkAllRead(ctx, riderID); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	if s.Hub != nil {
		s.Hub.Publish(stream.NotifyTopic(riderID), "notifications.read", riderID)
	}
	return nil
}
