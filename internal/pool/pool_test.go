package pool

import (
	"testing"

	"go.uber.org/zap"
)

func newTestSession(userID int, username string) *Session {
	return NewSession(nil, userID, username, zap.NewNop().Sugar())
}

func drain(s *Session) []Event {
	var events []Event
	for {
		select {
		case ev := <-s.egress:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	p := NewPool(zap.NewNop().Sugar())
	a := newTestSession(1, "alice")
	b := newTestSession(2, "bob")
	p.Add(10, a)
	p.Add(10, b)

	p.Broadcast(10, Event{"type": "typing"})

	for _, s := range []*Session{a, b} {
		if got := len(drain(s)); got != 1 {
			t.Errorf("user %d got %d events, want 1", s.UserID, got)
		}
	}
}

func TestBroadcastIncludesSendersOtherSessions(t *testing.T) {
	p := NewPool(zap.NewNop().Sugar())
	phone := newTestSession(1, "alice")
	laptop := newTestSession(1, "alice")
	p.Add(10, phone)
	p.Add(10, laptop)

	p.Broadcast(10, Event{"type": "message"})

	if len(drain(phone)) != 1 || len(drain(laptop)) != 1 {
		t.Error("multi-device fan-out did not reach both sessions of the same user")
	}
}

func TestRepeatedAddDoesNotDuplicateDelivery(t *testing.T) {
	p := NewPool(zap.NewNop().Sugar())
	s := newTestSession(1, "alice")
	p.Add(10, s)
	p.Add(10, s)

	p.Broadcast(10, Event{"type": "message"})

	if got := len(drain(s)); got != 1 {
		t.Errorf("got %d events after duplicate Add, want 1", got)
	}
}

func TestDiscardStopsDelivery(t *testing.T) {
	p := NewPool(zap.NewNop().Sugar())
	s := newTestSession(1, "alice")
	p.Add(10, s)
	p.Add(11, s)
	s.Join(10)
	s.Join(11)

	p.Discard(10, s)
	p.Broadcast(10, Event{"type": "message"})
	p.Broadcast(11, Event{"type": "message"})

	events := drain(s)
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the one for room 11", len(events))
	}

	// Discard is idempotent.
	p.Discard(10, s)
	if p.Sessions(11) != 1 {
		t.Error("unrelated room group was disturbed")
	}
}

func TestDiscardAllEmptiesEveryGroup(t *testing.T) {
	p := NewPool(zap.NewNop().Sugar())
	s := newTestSession(1, "alice")
	other := newTestSession(2, "bob")
	for _, roomID := range []int{10, 11, 12} {
		p.Add(roomID, s)
		s.Join(roomID)
	}
	p.Add(10, other)

	p.DiscardAll(s)

	if p.Sessions(10) != 1 {
		t.Errorf("room 10 has %d sessions, want 1 (bob)", p.Sessions(10))
	}
	if p.Sessions(11) != 0 || p.Sessions(12) != 0 {
		t.Error("DiscardAll left registrations behind")
	}
}

func TestDropRoomClearsJoinedSets(t *testing.T) {
	p := NewPool(zap.NewNop().Sugar())
	s := newTestSession(1, "alice")
	p.Add(10, s)
	s.Join(10)

	p.DropRoom(10)

	if p.Sessions(10) != 0 {
		t.Error("group survived DropRoom")
	}
	if s.Joined(10) {
		t.Error("session still lists the dropped room as joined")
	}
}

func TestBroadcastPreservesOrderPerSession(t *testing.T) {
	p := NewPool(zap.NewNop().Sugar())
	s := newTestSession(1, "alice")
	p.Add(10, s)

	for i := 0; i < 5; i++ {
		p.Broadcast(10, Event{"seq": i})
	}

	events := drain(s)
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	for i, ev := range events {
		if ev["seq"] != i {
			t.Fatalf("event %d out of order: %v", i, ev)
		}
	}
}
