package pool

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"RoomMessenger/server/internal/models"

	"go.uber.org/zap"
)

// Not-found and not-authorized are deliberately indistinguishable on the
// wire, so a caller cannot probe which rooms or messages exist.
const errNotPermitted = "operation not permitted"

// Frame is an inbound protocol frame, discriminated by Type.
type Frame struct {
	Type      string  `json:"type"`
	Rooms     []int   `json:"rooms,omitempty"`
	RoomID    int     `json:"room_id,omitempty"`
	MessageID int     `json:"message_id,omitempty"`
	Text      *string `json:"text,omitempty"`
	ReplyTo   *int    `json:"reply_to,omitempty"`
	FileID    *int    `json:"file_id,omitempty"`
	Value     string  `json:"value,omitempty"`
	IsTyping  bool    `json:"is_typing,omitempty"`
}

type RoomStore interface {
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
	MemberRole(ctx context.Context, roomID, userID int) (string, error)
}

type MessageStore interface {
	SendMessage(ctx context.Context, roomID, senderID int, username string, text *string, replyToID, fileID *int) (*models.Message, error)
	GetMessageById(ctx context.Context, messageID int) (*models.Message, error)
	EditMessage(ctx context.Context, messageID, editorID int, text string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID int) error
	UpsertAction(ctx context.Context, messageID, userID int, value string) (*models.MessageAction, error)
	MarkRead(ctx context.Context, messageID, userID int) (bool, time.Time, error)
	PendingMessages(ctx context.Context, userID int, roomIDs []int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, userID int, messageIDs []int) error
}

type UserStore interface {
	UpdateLastSeen(ctx context.Context, userID int) error
}

type Presence interface {
	SetOnline(userID int)
	ClearOnline(userID int)
}

// Dispatcher routes inbound frames to their handlers. Every mutating handler
// re-verifies room membership at call time: a member removed mid-session must
// be rejected even though their joined set still lists the room.
type Dispatcher struct {
	pool     *Pool
	rooms    RoomStore
	messages MessageStore
	users    UserStore
	presence Presence
	log      *zap.SugaredLogger
}

func NewDispatcher(p *Pool, rooms RoomStore, messages MessageStore, users UserStore, presence Presence, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		pool:     p,
		rooms:    rooms,
		messages: messages,
		users:    users,
		presence: presence,
		log:      log,
	}
}

// Connect marks the session's user online. Called once the authenticated
// connection is accepted.
func (d *Dispatcher) Connect(s *Session) {
	d.presence.SetOnline(s.UserID)
	d.log.Infof("user %d connected (session %s)", s.UserID, s.ID)
}

// Disconnect runs the cleanup path: leave all room groups, clear presence,
// stamp last-seen. Safe to reach from any failure path; the session's Close
// guards double execution of the transport teardown.
func (d *Dispatcher) Disconnect(ctx context.Context, s *Session) {
	d.pool.DiscardAll(s)
	d.presence.ClearOnline(s.UserID)
	if err := d.users.UpdateLastSeen(ctx, s.UserID); err != nil {
		d.log.Errorf("update last seen for user %d: %v", s.UserID, err)
	}
	d.log.Infof("user %d disconnected (session %s)", s.UserID, s.ID)
}

// Dispatch parses one inbound frame and routes it. Malformed frames are
// dropped; handler errors become error events, never transport faults.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		d.log.Infof("dropping malformed frame from user %d: %v", s.UserID, err)
		return
	}

	switch frame.Type {
	case "ping":
		d.handlePing(s)
	case "join_rooms":
		d.handleJoinRooms(ctx, s, &frame)
	case "message":
		d.handleMessage(ctx, s, &frame)
	case "edit_message":
		d.handleEditMessage(ctx, s, &frame)
	case "delete_message":
		d.handleDeleteMessage(ctx, s, &frame)
	case "action":
		d.handleAction(ctx, s, &frame)
	case "read":
		d.handleRead(ctx, s, &frame)
	case "typing":
		d.handleTyping(ctx, s, &frame)
	default:
		d.log.Infof("unknown frame type %q from user %d", frame.Type, s.UserID)
	}
}

func (d *Dispatcher) handlePing(s *Session) {
	d.presence.SetOnline(s.UserID)
	s.Send(Event{"type": "pong"})
}

// handleJoinRooms verifies membership per room, registers the session with
// the verified groups and replays this user's undelivered backlog, oldest
// first, flipping the delivered bits in one batch. Unverified ids are
// ignored without comment.
func (d *Dispatcher) handleJoinRooms(ctx context.Context, s *Session, frame *Frame) {
	joined := make([]int, 0, len(frame.Rooms))
	for _, roomID := range frame.Rooms {
		ok, err := d.rooms.IsMember(ctx, roomID, s.UserID)
		if err != nil {
			d.log.Errorf("membership check for user %d in room %d: %v", s.UserID, roomID, err)
			continue
		}
		if !ok {
			continue
		}
		d.pool.Add(roomID, s)
		s.Join(roomID)
		joined = append(joined, roomID)
	}

	s.Send(Event{"type": "join_rooms", "rooms": joined})
	if len(joined) == 0 {
		return
	}

	pending, err := d.messages.PendingMessages(ctx, s.UserID, joined)
	if err != nil {
		d.log.Errorf("pending messages for user %d: %v", s.UserID, err)
		return
	}
	if len(pending) == 0 {
		return
	}

	ids := make([]int, 0, len(pending))
	for i := range pending {
		s.Send(messageEvent(&pending[i]))
		ids = append(ids, pending[i].ID)
	}
	if err := d.messages.MarkDelivered(ctx, s.UserID, ids); err != nil {
		d.log.Errorf("mark delivered for user %d: %v", s.UserID, err)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, s *Session, frame *Frame) {
	if !s.Joined(frame.RoomID) {
		s.Send(errorEvent(errNotPermitted))
		return
	}
	if !d.isMember(ctx, s, frame.RoomID) {
		s.Send(errorEvent(errNotPermitted))
		return
	}

	msg, err := d.messages.SendMessage(ctx, frame.RoomID, s.UserID, s.Username, frame.Text, frame.ReplyTo, frame.FileID)
	if err != nil {
		d.sendError(s, err, "send message in room %d by user %d: %v", frame.RoomID, s.UserID)
		return
	}

	d.pool.Broadcast(frame.RoomID, messageEvent(msg))
}

func (d *Dispatcher) handleEditMessage(ctx context.Context, s *Session, frame *Frame) {
	if frame.Text == nil || *frame.Text == "" {
		s.Send(errorEvent(errNotPermitted))
		return
	}

	msg, err := d.messages.GetMessageById(ctx, frame.MessageID)
	if err != nil {
		d.sendError(s, err, "edit lookup of message %d by user %d: %v", frame.MessageID, s.UserID)
		return
	}
	if msg.SenderID != s.UserID || !s.Joined(msg.RoomID) || !d.isMember(ctx, s, msg.RoomID) {
		s.Send(errorEvent(errNotPermitted))
		return
	}

	updated, err := d.messages.EditMessage(ctx, frame.MessageID, s.UserID, *frame.Text)
	if err != nil {
		d.sendError(s, err, "edit message %d by user %d: %v", frame.MessageID, s.UserID)
		return
	}

	d.pool.Broadcast(updated.RoomID, editEvent(updated))
}

func (d *Dispatcher) handleDeleteMessage(ctx context.Context, s *Session, frame *Frame) {
	msg, err := d.messages.GetMessageById(ctx, frame.MessageID)
	if err != nil {
		d.sendError(s, err, "delete lookup of message %d by user %d: %v", frame.MessageID, s.UserID)
		return
	}
	if !s.Joined(msg.RoomID) || !d.canDelete(ctx, s, msg) {
		s.Send(errorEvent(errNotPermitted))
		return
	}

	if err := d.messages.DeleteMessage(ctx, frame.MessageID); err != nil {
		d.sendError(s, err, "delete message %d by user %d: %v", frame.MessageID, s.UserID)
		return
	}

	d.pool.Broadcast(msg.RoomID, deleteEvent(msg.ID))
}

// canDelete allows the sender, or an admin/owner of the message's room.
func (d *Dispatcher) canDelete(ctx context.Context, s *Session, msg *models.Message) bool {
	role, err := d.rooms.MemberRole(ctx, msg.RoomID, s.UserID)
	if err != nil {
		return false
	}
	if msg.SenderID == s.UserID {
		return true
	}
	return role == models.RoleAdmin || role == models.RoleOwner
}

func (d *Dispatcher) handleAction(ctx context.Context, s *Session, frame *Frame) {
	msg, err := d.messages.GetMessageById(ctx, frame.MessageID)
	if err != nil {
		d.sendError(s, err, "action lookup of message %d by user %d: %v", frame.MessageID, s.UserID)
		return
	}
	if !d.isMember(ctx, s, msg.RoomID) {
		s.Send(errorEvent(errNotPermitted))
		return
	}

	action, err := d.messages.UpsertAction(ctx, frame.MessageID, s.UserID, frame.Value)
	if err != nil {
		d.sendError(s, err, "action on message %d by user %d: %v", frame.MessageID, s.UserID)
		return
	}

	d.pool.Broadcast(msg.RoomID, actionEvent(action, s.Username))
}

func (d *Dispatcher) handleRead(ctx context.Context, s *Session, frame *Frame) {
	msg, err := d.messages.GetMessageById(ctx, frame.MessageID)
	if err != nil {
		d.sendError(s, err, "read lookup of message %d by user %d: %v", frame.MessageID, s.UserID)
		return
	}
	if !d.isMember(ctx, s, msg.RoomID) {
		s.Send(errorEvent(errNotPermitted))
		return
	}

	changed, readAt, err := d.messages.MarkRead(ctx, frame.MessageID, s.UserID)
	if err != nil {
		d.sendError(s, err, "mark message %d read by user %d: %v", frame.MessageID, s.UserID)
		return
	}
	if !changed {
		// Already read: no duplicate broadcast.
		return
	}

	d.pool.Broadcast(msg.RoomID, readEvent(msg.ID, s.UserID, s.Username, readAt))
}

func (d *Dispatcher) handleTyping(ctx context.Context, s *Session, frame *Frame) {
	if !s.Joined(frame.RoomID) || !d.isMember(ctx, s, frame.RoomID) {
		s.Send(errorEvent(errNotPermitted))
		return
	}

	d.pool.Broadcast(frame.RoomID, typingEvent(frame.RoomID, s.UserID, s.Username, frame.IsTyping))
}

func (d *Dispatcher) isMember(ctx context.Context, s *Session, roomID int) bool {
	ok, err := d.rooms.IsMember(ctx, roomID, s.UserID)
	if err != nil {
		d.log.Errorf("membership check for user %d in room %d: %v", s.UserID, roomID, err)
		return false
	}
	return ok
}

func (d *Dispatcher) sendError(s *Session, err error, format string, args ...interface{}) {
	switch {
	case errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrRoomNotFound),
		errors.Is(err, models.ErrNotMember),
		errors.Is(err, models.ErrNotSender),
		errors.Is(err, models.ErrNotAllowed),
		errors.Is(err, models.ErrFileNotFound):
		s.Send(errorEvent(errNotPermitted))
	case errors.Is(err, models.ErrEmptyMessage):
		s.Send(errorEvent("message requires text or an attachment"))
	default:
		// Transient storage failure: nothing was visibly committed, the
		// client gets no confirmation and may retry.
		d.log.Errorf(format, append(args, err)...)
		s.Send(errorEvent("temporary failure"))
	}
}
