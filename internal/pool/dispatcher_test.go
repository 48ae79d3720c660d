package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"RoomMessenger/server/internal/models"

	"go.uber.org/zap"
)

type fakeRooms struct {
	members map[int]map[int]string // roomID -> userID -> role
}

func (f *fakeRooms) IsMember(_ context.Context, roomID, userID int) (bool, error) {
	_, ok := f.members[roomID][userID]
	return ok, nil
}

func (f *fakeRooms) MemberRole(_ context.Context, roomID, userID int) (string, error) {
	role, ok := f.members[roomID][userID]
	if !ok {
		return "", models.ErrNotMember
	}
	return role, nil
}

type fakePresence struct {
	online map[int]bool
}

func (f *fakePresence) SetOnline(userID int)   { f.online[userID] = true }
func (f *fakePresence) ClearOnline(userID int) { delete(f.online, userID) }
func (f *fakePresence) IsOnline(userID int) bool {
	return f.online[userID]
}

type fakeMessages struct {
	rooms    *fakeRooms
	presence *fakePresence

	nextID   int
	messages map[int]*models.Message
	statuses map[int]map[int]*models.MessageStatus // messageID -> userID -> status
	actions  map[int]map[int]*models.MessageAction
}

func newFakeMessages(rooms *fakeRooms, presence *fakePresence) *fakeMessages {
	return &fakeMessages{
		rooms:    rooms,
		presence: presence,
		nextID:   1,
		messages: make(map[int]*models.Message),
		statuses: make(map[int]map[int]*models.MessageStatus),
		actions:  make(map[int]map[int]*models.MessageAction),
	}
}

func (f *fakeMessages) SendMessage(_ context.Context, roomID, senderID int, username string, text *string, replyToID, fileID *int) (*models.Message, error) {
	if (text == nil || *text == "") && fileID == nil {
		return nil, models.ErrEmptyMessage
	}
	now := time.Now()
	msg := &models.Message{
		ID:        f.nextID,
		RoomID:    roomID,
		SenderID:  senderID,
		Username:  username,
		Text:      text,
		ReplyToID: replyToID,
		FileID:    fileID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.nextID++
	f.messages[msg.ID] = msg

	f.statuses[msg.ID] = make(map[int]*models.MessageStatus)
	for memberID := range f.rooms.members[roomID] {
		delivered := memberID == senderID || f.presence.IsOnline(memberID)
		status := &models.MessageStatus{
			MessageID:   msg.ID,
			UserID:      memberID,
			IsDelivered: delivered,
			IsRead:      memberID == senderID,
		}
		if delivered {
			at := now
			status.DeliveredAt = &at
		}
		if memberID == senderID {
			at := now
			status.ReadAt = &at
		}
		f.statuses[msg.ID][memberID] = status
	}
	return msg, nil
}

func (f *fakeMessages) GetMessageById(_ context.Context, messageID int) (*models.Message, error) {
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, models.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeMessages) EditMessage(_ context.Context, messageID, editorID int, text string) (*models.Message, error) {
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, models.ErrMessageNotFound
	}
	if msg.SenderID != editorID {
		return nil, models.ErrNotSender
	}
	msg.Text = &text
	msg.Edited = true
	msg.UpdatedAt = time.Now()
	if !msg.UpdatedAt.After(msg.CreatedAt) {
		msg.UpdatedAt = msg.CreatedAt.Add(time.Nanosecond)
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeMessages) DeleteMessage(_ context.Context, messageID int) error {
	if _, ok := f.messages[messageID]; !ok {
		return models.ErrMessageNotFound
	}
	delete(f.messages, messageID)
	delete(f.statuses, messageID)
	delete(f.actions, messageID)
	return nil
}

func (f *fakeMessages) UpsertAction(_ context.Context, messageID, userID int, value string) (*models.MessageAction, error) {
	if _, ok := f.messages[messageID]; !ok {
		return nil, models.ErrMessageNotFound
	}
	if f.actions[messageID] == nil {
		f.actions[messageID] = make(map[int]*models.MessageAction)
	}
	action := &models.MessageAction{MessageID: messageID, UserID: userID, Value: value, CreatedAt: time.Now()}
	f.actions[messageID][userID] = action
	return action, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, messageID, userID int) (bool, time.Time, error) {
	status, ok := f.statuses[messageID][userID]
	if !ok || status.IsRead {
		return false, time.Time{}, nil
	}
	now := time.Now()
	status.IsRead = true
	status.ReadAt = &now
	status.IsDelivered = true
	if status.DeliveredAt == nil {
		status.DeliveredAt = &now
	}
	return true, now, nil
}

func (f *fakeMessages) PendingMessages(_ context.Context, userID int, roomIDs []int) ([]models.Message, error) {
	wanted := make(map[int]bool, len(roomIDs))
	for _, id := range roomIDs {
		wanted[id] = true
	}
	var pending []models.Message
	for _, msg := range f.messages {
		if !wanted[msg.RoomID] {
			continue
		}
		status, ok := f.statuses[msg.ID][userID]
		if ok && !status.IsDelivered {
			pending = append(pending, *msg)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending, nil
}

func (f *fakeMessages) MarkDelivered(_ context.Context, userID int, messageIDs []int) error {
	now := time.Now()
	for _, id := range messageIDs {
		if status, ok := f.statuses[id][userID]; ok && !status.IsDelivered {
			status.IsDelivered = true
			status.DeliveredAt = &now
		}
	}
	return nil
}

type fakeUsers struct {
	lastSeen map[int]int
}

func (f *fakeUsers) UpdateLastSeen(_ context.Context, userID int) error {
	if f.lastSeen == nil {
		f.lastSeen = make(map[int]int)
	}
	f.lastSeen[userID]++
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	pool       *Pool
	rooms      *fakeRooms
	messages   *fakeMessages
	presence   *fakePresence
	users      *fakeUsers
}

func newFixture(members map[int]map[int]string) *fixture {
	rooms := &fakeRooms{members: members}
	presence := &fakePresence{online: make(map[int]bool)}
	messages := newFakeMessages(rooms, presence)
	users := &fakeUsers{}
	p := NewPool(zap.NewNop().Sugar())
	return &fixture{
		dispatcher: NewDispatcher(p, rooms, messages, users, presence, zap.NewNop().Sugar()),
		pool:       p,
		rooms:      rooms,
		messages:   messages,
		presence:   presence,
		users:      users,
	}
}

func dispatch(t *testing.T, fx *fixture, s *Session, frame string) {
	t.Helper()
	if !json.Valid([]byte(frame)) {
		t.Fatalf("test frame is not valid JSON: %s", frame)
	}
	fx.dispatcher.Dispatch(context.Background(), s, []byte(frame))
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i], _ = ev["type"].(string)
	}
	return types
}

func TestOfflineRecipientCatchesUpOnJoin(t *testing.T) {
	// Private room 10 with members alice (1) and bob (2); bob is offline.
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleMember},
	})
	alice := newTestSession(1, "alice")
	fx.presence.SetOnline(1)

	dispatch(t, fx, alice, `{"type":"join_rooms","rooms":[10]}`)
	dispatch(t, fx, alice, `{"type":"message","room_id":10,"text":"hi"}`)

	status := fx.messages.statuses[1][2]
	if status == nil || status.IsDelivered {
		t.Fatal("offline member should have an undelivered status row")
	}

	bob := newTestSession(2, "bob")
	dispatch(t, fx, bob, `{"type":"join_rooms","rooms":[10]}`)

	events := drain(bob)
	types := eventTypes(events)
	if len(types) != 2 || types[0] != "join_rooms" || types[1] != "message" {
		t.Fatalf("got events %v, want [join_rooms message]", types)
	}
	if events[1]["text"] == nil || *(events[1]["text"].(*string)) != "hi" {
		t.Errorf("unexpected replayed message: %v", events[1])
	}
	if !fx.messages.statuses[1][2].IsDelivered {
		t.Error("delivered bit did not flip after replay")
	}

	// A second join replays nothing: delivery happens exactly once.
	dispatch(t, fx, bob, `{"type":"join_rooms","rooms":[10]}`)
	types = eventTypes(drain(bob))
	if len(types) != 1 || types[0] != "join_rooms" {
		t.Fatalf("got events %v after rejoin, want [join_rooms]", types)
	}
}

func TestJoinRoomsIgnoresForeignRoomsSilently(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember},
		11: {2: models.RoleMember},
	})
	s := newTestSession(1, "alice")

	dispatch(t, fx, s, `{"type":"join_rooms","rooms":[10,11,99]}`)

	events := drain(s)
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the ack", len(events))
	}
	rooms := events[0]["rooms"].([]int)
	if len(rooms) != 1 || rooms[0] != 10 {
		t.Errorf("got joined rooms %v, want [10]", rooms)
	}
	if s.Joined(11) || s.Joined(99) {
		t.Error("session joined a room it is not a member of")
	}
}

func TestPendingReplayAscendingOrder(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleMember},
		11: {1: models.RoleMember, 2: models.RoleMember},
	})
	alice := newTestSession(1, "alice")
	dispatch(t, fx, alice, `{"type":"join_rooms","rooms":[10,11]}`)
	drain(alice)
	dispatch(t, fx, alice, `{"type":"message","room_id":10,"text":"one"}`)
	dispatch(t, fx, alice, `{"type":"message","room_id":11,"text":"two"}`)
	dispatch(t, fx, alice, `{"type":"message","room_id":10,"text":"three"}`)

	bob := newTestSession(2, "bob")
	dispatch(t, fx, bob, `{"type":"join_rooms","rooms":[10,11]}`)

	events := drain(bob)
	if len(events) != 4 {
		t.Fatalf("got %d events, want ack + 3 messages", len(events))
	}
	for i, wantID := range []int{1, 2, 3} {
		if events[i+1]["message_id"] != wantID {
			t.Fatalf("replay out of order: event %d is %v", i+1, events[i+1])
		}
	}
}

func TestSendCreatesStatusRowPerMember(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleOwner, 2: models.RoleMember, 3: models.RoleMember},
	})
	s := newTestSession(1, "alice")
	fx.presence.SetOnline(2) // user 2 online, user 3 offline
	dispatch(t, fx, s, `{"type":"join_rooms","rooms":[10]}`)
	drain(s)

	dispatch(t, fx, s, `{"type":"message","room_id":10,"text":"hello"}`)

	statuses := fx.messages.statuses[1]
	if len(statuses) != 3 {
		t.Fatalf("got %d status rows, want 3", len(statuses))
	}
	if !statuses[1].IsRead || statuses[1].ReadAt == nil {
		t.Error("sender's row is not pre-marked read")
	}
	if !statuses[2].IsDelivered {
		t.Error("online member's row is not delivered")
	}
	if statuses[3].IsDelivered || statuses[3].IsRead {
		t.Error("offline member's row should start undelivered and unread")
	}
}

func TestSendRequiresJoinedRoom(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleMember},
	})
	s := newTestSession(1, "alice")

	// Member of the room, but never joined it on this session.
	dispatch(t, fx, s, `{"type":"message","room_id":10,"text":"hi"}`)

	types := eventTypes(drain(s))
	if len(types) != 1 || types[0] != "error" {
		t.Fatalf("got events %v, want [error]", types)
	}
	if len(fx.messages.messages) != 0 {
		t.Error("message stored despite rejection")
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember},
	})
	s := newTestSession(1, "alice")
	dispatch(t, fx, s, `{"type":"join_rooms","rooms":[10]}`)
	drain(s)

	dispatch(t, fx, s, `{"type":"message","room_id":10}`)

	types := eventTypes(drain(s))
	if len(types) != 1 || types[0] != "error" {
		t.Fatalf("got events %v, want [error]", types)
	}
}

func TestRemovedMemberRejectedMidSession(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleOwner},
	})
	s := newTestSession(1, "alice")
	dispatch(t, fx, s, `{"type":"join_rooms","rooms":[10]}`)
	drain(s)
	dispatch(t, fx, s, `{"type":"message","room_id":10,"text":"before"}`)
	drain(s)

	// An admin removes alice; her session still lists room 10 as joined.
	delete(fx.rooms.members[10], 1)

	for _, frame := range []string{
		`{"type":"message","room_id":10,"text":"after"}`,
		fmt.Sprintf(`{"type":"edit_message","message_id":%d,"text":"x"}`, 1),
		fmt.Sprintf(`{"type":"delete_message","message_id":%d}`, 1),
	} {
		dispatch(t, fx, s, frame)
		types := eventTypes(drain(s))
		if len(types) != 1 || types[0] != "error" {
			t.Fatalf("frame %s: got events %v, want [error]", frame, types)
		}
	}
	if len(fx.messages.messages) != 1 {
		t.Error("state changed despite rejected frames")
	}
}

func TestEditByNonSenderRejected(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleMember},
	})
	alice := newTestSession(1, "alice")
	bob := newTestSession(2, "bob")
	dispatch(t, fx, alice, `{"type":"join_rooms","rooms":[10]}`)
	dispatch(t, fx, bob, `{"type":"join_rooms","rooms":[10]}`)
	drain(alice)
	drain(bob)
	dispatch(t, fx, alice, `{"type":"message","room_id":10,"text":"original"}`)
	drain(alice)
	drain(bob)

	dispatch(t, fx, bob, `{"type":"edit_message","message_id":1,"text":"hijacked"}`)

	types := eventTypes(drain(bob))
	if len(types) != 1 || types[0] != "error" {
		t.Fatalf("got events %v, want [error]", types)
	}
	if got := *fx.messages.messages[1].Text; got != "original" {
		t.Errorf("message text changed to %q", got)
	}
	if len(drain(alice)) != 0 {
		t.Error("rejected edit was broadcast")
	}
}

func TestDeleteByPlainMemberRejected(t *testing.T) {
	// Group room: owner O (1) and member U (2). U may not delete O's message.
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleOwner, 2: models.RoleMember},
	})
	owner := newTestSession(1, "olga")
	member := newTestSession(2, "uma")
	dispatch(t, fx, owner, `{"type":"join_rooms","rooms":[10]}`)
	dispatch(t, fx, member, `{"type":"join_rooms","rooms":[10]}`)
	drain(owner)
	drain(member)
	dispatch(t, fx, owner, `{"type":"message","room_id":10,"text":"rules"}`)
	drain(owner)
	drain(member)

	dispatch(t, fx, member, `{"type":"delete_message","message_id":1}`)

	types := eventTypes(drain(member))
	if len(types) != 1 || types[0] != "error" {
		t.Fatalf("got events %v, want [error]", types)
	}
	if _, ok := fx.messages.messages[1]; !ok {
		t.Error("message deleted despite rejection")
	}
}

func TestOwnerMayDeleteMembersMessage(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleOwner, 2: models.RoleMember},
	})
	owner := newTestSession(1, "olga")
	member := newTestSession(2, "uma")
	dispatch(t, fx, owner, `{"type":"join_rooms","rooms":[10]}`)
	dispatch(t, fx, member, `{"type":"join_rooms","rooms":[10]}`)
	drain(owner)
	drain(member)
	dispatch(t, fx, member, `{"type":"message","room_id":10,"text":"spam"}`)
	drain(owner)
	drain(member)

	dispatch(t, fx, owner, `{"type":"delete_message","message_id":1}`)

	if _, ok := fx.messages.messages[1]; ok {
		t.Error("message survived owner deletion")
	}
	events := drain(member)
	if len(events) != 1 || events[0]["type"] != "delete_message" || events[0]["message_id"] != 1 {
		t.Fatalf("got events %v, want one delete_message for id 1", events)
	}
}

func TestEditBroadcastsUpdatedAfterCreated(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember},
	})
	s := newTestSession(1, "alice")
	dispatch(t, fx, s, `{"type":"join_rooms","rooms":[10]}`)
	drain(s)
	dispatch(t, fx, s, `{"type":"message","room_id":10,"text":"v1"}`)
	drain(s)

	dispatch(t, fx, s, `{"type":"edit_message","message_id":1,"text":"v2"}`)

	events := drain(s)
	if len(events) != 1 || events[0]["type"] != "edit_message" {
		t.Fatalf("got events %v, want one edit_message", events)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, events[0]["updated_at"].(string))
	if err != nil {
		t.Fatalf("parse updated_at: %v", err)
	}
	if !updatedAt.After(fx.messages.messages[1].CreatedAt) {
		t.Error("updated_at is not strictly greater than created_at")
	}
	if events[0]["edited"] != true {
		t.Error("edit event does not carry edited=true")
	}
}

func TestActionUpsertReplacesValue(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleMember},
	})
	s := newTestSession(1, "alice")
	dispatch(t, fx, s, `{"type":"join_rooms","rooms":[10]}`)
	drain(s)
	dispatch(t, fx, s, `{"type":"message","room_id":10,"text":"hi"}`)
	drain(s)

	dispatch(t, fx, s, `{"type":"action","message_id":1,"value":"like"}`)
	dispatch(t, fx, s, `{"type":"action","message_id":1,"value":"heart"}`)

	if len(fx.messages.actions[1]) != 1 {
		t.Fatalf("got %d action rows for (message,user), want 1", len(fx.messages.actions[1]))
	}
	if got := fx.messages.actions[1][1].Value; got != "heart" {
		t.Errorf("got value %q, want heart", got)
	}
	events := drain(s)
	if len(events) != 2 || events[1]["value"] != "heart" {
		t.Fatalf("got events %v, want two action broadcasts ending with heart", events)
	}
}

func TestReadIsIdempotent(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleMember},
	})
	alice := newTestSession(1, "alice")
	bob := newTestSession(2, "bob")
	dispatch(t, fx, alice, `{"type":"join_rooms","rooms":[10]}`)
	dispatch(t, fx, bob, `{"type":"join_rooms","rooms":[10]}`)
	drain(alice)
	drain(bob)
	dispatch(t, fx, alice, `{"type":"message","room_id":10,"text":"hi"}`)
	drain(alice)
	drain(bob)

	dispatch(t, fx, bob, `{"type":"read","message_id":1}`)
	dispatch(t, fx, bob, `{"type":"read","message_id":1}`)

	types := eventTypes(drain(alice))
	if len(types) != 1 || types[0] != "read" {
		t.Fatalf("got events %v, want exactly one read broadcast", types)
	}
	status := fx.messages.statuses[1][2]
	if !status.IsRead || status.ReadAt == nil {
		t.Error("read bit did not flip")
	}
}

func TestTypingBroadcastsWithoutPersisting(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleMember},
	})
	alice := newTestSession(1, "alice")
	bob := newTestSession(2, "bob")
	dispatch(t, fx, alice, `{"type":"join_rooms","rooms":[10]}`)
	dispatch(t, fx, bob, `{"type":"join_rooms","rooms":[10]}`)
	drain(alice)
	drain(bob)

	dispatch(t, fx, alice, `{"type":"typing","room_id":10,"is_typing":true}`)

	events := drain(bob)
	if len(events) != 1 || events[0]["type"] != "typing" || events[0]["is_typing"] != true {
		t.Fatalf("got events %v, want one typing indicator", events)
	}
	if len(fx.messages.messages) != 0 {
		t.Error("typing indicator was persisted")
	}
}

func TestPingRefreshesPresence(t *testing.T) {
	fx := newFixture(map[int]map[int]string{})
	s := newTestSession(1, "alice")

	dispatch(t, fx, s, `{"type":"ping"}`)

	if !fx.presence.IsOnline(1) {
		t.Error("ping did not refresh presence")
	}
	types := eventTypes(drain(s))
	if len(types) != 1 || types[0] != "pong" {
		t.Fatalf("got events %v, want [pong]", types)
	}
}

func TestDisconnectCleanup(t *testing.T) {
	fx := newFixture(map[int]map[int]string{
		10: {1: models.RoleMember, 2: models.RoleMember},
	})
	s := newTestSession(1, "alice")
	fx.dispatcher.Connect(s)
	dispatch(t, fx, s, `{"type":"join_rooms","rooms":[10]}`)
	drain(s)

	fx.dispatcher.Disconnect(context.Background(), s)

	if fx.pool.Sessions(10) != 0 {
		t.Error("session still registered after disconnect")
	}
	if fx.presence.IsOnline(1) {
		t.Error("presence not cleared on disconnect")
	}
	if fx.users.lastSeen[1] != 1 {
		t.Error("last seen was not stamped")
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	fx := newFixture(map[int]map[int]string{})
	s := newTestSession(1, "alice")

	fx.dispatcher.Dispatch(context.Background(), s, []byte(`{not json`))
	fx.dispatcher.Dispatch(context.Background(), s, []byte(`{"no":"type"}`))

	if len(drain(s)) != 0 {
		t.Error("malformed frames produced events")
	}
}
