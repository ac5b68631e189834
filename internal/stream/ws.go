package stream

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session wraps one WebSocket connection with a write lock so multiple
// topic pumps can share it safely.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewSession(conn *websocket.Conn) *Session { return &Session{conn: conn} }

func (s *Session) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// SendJSON writes an arbitrary payload, for streams that are not
// hub events.
func (s *Session) SendJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Pump forwards subscription events to the session until the
// subscription closes or a write fails.
func Pump(sub *Subscription, sess *Session) {
	for ev := range sub.Events() {
		if err := sess.Send(ev); err != nil {
			sub.Close()
			return
		}
	}
}
