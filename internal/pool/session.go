package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = int64(64 * 1024)
	sendBufSize    = 256
	sendTimeout    = 2 * time.Second
)

// Session is one live client connection. The read loop handles inbound
// frames strictly sequentially; the write pump drains the egress channel, so
// events for one session are written in the order they were enqueued.
type Session struct {
	ID       string
	UserID   int
	Username string

	conn   *websocket.Conn
	egress chan Event
	log    *zap.SugaredLogger

	mu     sync.Mutex
	joined map[int]bool

	closeOnce sync.Once
	done      chan struct{}
}

func NewSession(conn *websocket.Conn, userID int, username string, log *zap.SugaredLogger) *Session {
	return &Session{
		ID:       uuid.New().String(),
		UserID:   userID,
		Username: username,
		conn:     conn,
		egress:   make(chan Event, sendBufSize),
		log:      log,
		joined:   make(map[int]bool),
		done:     make(chan struct{}),
	}
}

// Join records the room in the session's joined set.
func (s *Session) Join(roomID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[roomID] = true
}

func (s *Session) Leave(roomID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, roomID)
}

// Joined reports whether the session has joined the room.
func (s *Session) Joined(roomID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[roomID]
}

func (s *Session) JoinedRooms() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]int, 0, len(s.joined))
	for roomID := range s.joined {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Egress exposes the outbound event queue; the write pump drains it.
func (s *Session) Egress() <-chan Event {
	return s.egress
}

// Send enqueues an event for the write pump. A session that cannot drain its
// buffer within the send timeout is closed rather than stalling the caller.
func (s *Session) Send(ev Event) {
	select {
	case s.egress <- ev:
	case <-s.done:
	case <-time.After(sendTimeout):
		s.log.Warnf("egress full, closing session %s (user %d)", s.ID, s.UserID)
		s.Close()
	}
}

// Close is idempotent; the disconnect cleanup path runs once no matter how
// many triggers race (read error, write error, explicit close).
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// ReadPump reads frames and hands them to the dispatcher one at a time. It
// blocks until the connection drops, then runs the disconnect cleanup.
func (s *Session) ReadPump(ctx context.Context, d *Dispatcher) {
	defer func() {
		d.Disconnect(ctx, s)
		s.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Infof("session %s (user %d) read error: %v", s.ID, s.UserID, err)
			}
			return
		}
		d.Dispatch(ctx, s, raw)
	}
}

// WritePump serializes outbound events and keeps the connection alive with
// protocol-level pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.egress:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.log.Infof("session %s (user %d) write error: %v", s.ID, s.UserID, err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
