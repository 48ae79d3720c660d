package pool

import (
	"sync"

	"go.uber.org/zap"
)

// Pool is the registry of room broadcast groups: roomID -> the sessions
// currently subscribed to that room's events. Authorization happens before
// Add; Broadcast fans out to whoever is registered, including other sessions
// of the sender's own user.
type Pool struct {
	mu    sync.RWMutex
	rooms map[int]map[string]*Session
	log   *zap.SugaredLogger
}

func NewPool(log *zap.SugaredLogger) *Pool {
	return &Pool{
		rooms: make(map[int]map[string]*Session),
		log:   log,
	}
}

// Add registers the session with a room group. Re-adding is a no-op, so a
// repeated join cannot duplicate delivery.
func (p *Pool) Add(roomID int, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	group, ok := p.rooms[roomID]
	if !ok {
		group = make(map[string]*Session)
		p.rooms[roomID] = group
	}
	if _, exists := group[s.ID]; exists {
		return
	}
	group[s.ID] = s
	p.log.Infof("session %s (user %d) joined room group %d", s.ID, s.UserID, roomID)
}

// Discard removes the session from one room group.
func (p *Pool) Discard(roomID int, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discardLocked(roomID, s)
}

func (p *Pool) discardLocked(roomID int, s *Session) {
	group, ok := p.rooms[roomID]
	if !ok {
		return
	}
	if _, exists := group[s.ID]; !exists {
		return
	}
	delete(group, s.ID)
	if len(group) == 0 {
		delete(p.rooms, roomID)
	}
	p.log.Infof("session %s (user %d) left room group %d", s.ID, s.UserID, roomID)
}

// DiscardAll removes the session from every room group it joined.
func (p *Pool) DiscardAll(s *Session) {
	rooms := s.JoinedRooms()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, roomID := range rooms {
		p.discardLocked(roomID, s)
	}
}

// DropRoom dissolves a room group entirely, e.g. after room deletion.
func (p *Pool) DropRoom(roomID int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.rooms[roomID] {
		s.Leave(roomID)
	}
	delete(p.rooms, roomID)
}

// Broadcast delivers the event to every session registered for the room.
func (p *Pool) Broadcast(roomID int, ev Event) {
	p.mu.RLock()
	group := p.rooms[roomID]
	sessions := make([]*Session, 0, len(group))
	for _, s := range group {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	for _, s := range sessions {
		s.Send(ev)
	}
}

// Sessions reports how many sessions are registered for a room.
func (p *Pool) Sessions(roomID int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms[roomID])
}
