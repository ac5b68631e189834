package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/rider-api/internal/observability"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

var upgrader = websocket.Upgrader{
	// the bearer token already authenticated the rider
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleRideWatch streams composite ride views for the rider's active
// request. The stream closes itself shortly after the ride reaches a
// terminal state; disconnecting cancels the subscription.
func (s *Server) handleRideWatch(w http.ResponseWriter, r *http.Request) {
	riderID := identityFrom(r).RiderID
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	views, err := s.Tracker.Watch(ctx, riderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no active ride", http.StatusNotFound)
			return
		}
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := stream.NewSession(conn)
	defer sess.Close()

	observability.LiveSubscribers.Inc()
	defer observability.LiveSubscribers.Dec()

	go discardReads(conn, cancel)
	for v := range views {
		if err := sess.SendJSON(v); err != nil {
			return
		}
	}
}

// handleChatWS streams ride chat messages as they arrive.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chat_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.pumpTopic(r, conn, stream.ChatTopic(chatID))
}

// handleNotifyWS streams the rider's notifications as they are pushed.
func (s *Server) handleNotifyWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.pumpTopic(r, conn, stream.NotifyTopic(identityFrom(r).RiderID))
}

func (s *Server) pumpTopic(r *http.Request, conn *websocket.Conn, topic string) {
	sess := stream.NewSession(conn)
	defer sess.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.Hub.Subscribe(ctx, topic)
	defer sub.Close()

	observability.LiveSubscribers.Inc()
	defer observability.LiveSubscribers.Dec()

	go discardReads(conn, cancel)
	stream.Pump(sub, sess)
}

// discardReads drains the client side so close frames are processed,
// cancelling the subscription context when the peer goes away.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
