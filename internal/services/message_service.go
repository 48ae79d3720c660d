package services

import (
	"context"
	"errors"
	"time"

	"RoomMessenger/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// OnlineChecker is the presence capability the message service needs at send
// time. A failed or stale lookup means "offline"; it never blocks a send.
type OnlineChecker interface {
	IsOnline(userID int) bool
}

type MessageService interface {
	SendMessage(ctx context.Context, roomID, senderID int, username string, text *string, replyToID, fileID *int) (*models.Message, error)
	GetMessageById(ctx context.Context, messageID int) (*models.Message, error)
	EditMessage(ctx context.Context, messageID, editorID int, text string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID int) error
	UpsertAction(ctx context.Context, messageID, userID int, value string) (*models.MessageAction, error)
	MarkRead(ctx context.Context, messageID, userID int) (bool, time.Time, error)
	PendingMessages(ctx context.Context, userID int, roomIDs []int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, userID int, messageIDs []int) error
	GetMessagesByRoomId(ctx context.Context, roomID, offset, limit int) ([]models.Message, error)
	ActionsForMessages(ctx context.Context, messageIDs []int) (map[int][]models.MessageAction, error)
	StatusesForMessages(ctx context.Context, messageIDs []int) (map[int][]models.MessageStatus, error)
}

type messageService struct {
	db       *pgxpool.Pool
	presence OnlineChecker
	log      *zap.SugaredLogger
}

func NewMessageService(db *pgxpool.Pool, presence OnlineChecker, log *zap.SugaredLogger) *messageService {
	return &messageService{db: db, presence: presence, log: log}
}

// SendMessage creates the message and its per-recipient status rows in one
// transaction. Each current member gets a row: delivered reflects presence at
// send time, the sender's row is pre-marked delivered and read.
func (ms *messageService) SendMessage(ctx context.Context, roomID, senderID int, username string, text *string, replyToID, fileID *int) (*models.Message, error) {
	if (text == nil || *text == "") && fileID == nil {
		return nil, models.ErrEmptyMessage
	}

	tx, err := ms.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if replyToID != nil {
		var replyRoomID int
		err := tx.QueryRow(ctx, `SELECT room_id FROM messages WHERE id = $1`, *replyToID).Scan(&replyRoomID)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && replyRoomID != roomID) {
			return nil, models.ErrMessageNotFound
		}
		if err != nil {
			return nil, err
		}
	}

	sqlStr, args, err := psql.Insert("messages").
		Columns("room_id", "sender_id", "username", "text", "reply_to_id").
		Values(roomID, senderID, username, text, replyToID).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Username:  username,
		Text:      text,
		ReplyToID: replyToID,
		FileID:    fileID,
	}
	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		ms.log.Errorf("save message in room %d: %v", roomID, err)
		return nil, err
	}

	if fileID != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE files SET message_id = $1 WHERE id = $2 AND owner_id = $3 AND message_id IS NULL`,
			msg.ID, *fileID, senderID)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, models.ErrFileNotFound
		}
	}

	rows, err := tx.Query(ctx, `SELECT user_id FROM room_members WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, err
	}
	var memberIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		memberIDs = append(memberIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return nil, models.ErrNotMember
	}

	now := time.Now()
	insert := psql.Insert("message_statuses").
		Columns("message_id", "user_id", "is_delivered", "delivered_at", "is_read", "read_at")
	for _, memberID := range memberIDs {
		delivered := memberID == senderID || ms.presence.IsOnline(memberID)
		var deliveredAt, readAt *time.Time
		if delivered {
			deliveredAt = &now
		}
		if memberID == senderID {
			readAt = &now
		}
		insert = insert.Values(msg.ID, memberID, delivered, deliveredAt, memberID == senderID, readAt)
	}
	sqlStr, args, err = insert.ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		ms.log.Errorf("insert statuses for message %d: %v", msg.ID, err)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	ms.log.Infof("message %d saved in room %d by user %d (%d statuses)", msg.ID, roomID, senderID, len(memberIDs))
	return msg, nil
}

func (ms *messageService) GetMessageById(ctx context.Context, messageID int) (*models.Message, error) {
	sqlStr, args, err := psql.Select("m.id", "m.room_id", "m.sender_id", "m.username", "m.text",
		"m.reply_to_id", "f.id", "m.edited", "m.created_at", "m.updated_at").
		From("messages m").
		LeftJoin("files f ON f.message_id = m.id").
		Where(squirrel.Eq{"m.id": messageID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var msg models.Message
	err = ms.db.QueryRow(ctx, sqlStr, args...).Scan(
		&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Username, &msg.Text,
		&msg.ReplyToID, &msg.FileID, &msg.Edited, &msg.CreatedAt, &msg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (ms *messageService) EditMessage(ctx context.Context, messageID, editorID int, text string) (*models.Message, error) {
	tx, err := ms.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var senderID int
	err = tx.QueryRow(ctx, `SELECT sender_id FROM messages WHERE id = $1 FOR UPDATE`, messageID).Scan(&senderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if senderID != editorID {
		return nil, models.ErrNotSender
	}

	sqlStr, args, err := psql.Update("messages").
		Set("text", text).
		Set("edited", true).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": messageID}).
		Suffix("RETURNING id, room_id, sender_id, username, text, reply_to_id, edited, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	var msg models.Message
	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(
		&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Username, &msg.Text,
		&msg.ReplyToID, &msg.Edited, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		ms.log.Errorf("edit message %d: %v", messageID, err)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage removes the message; status rows cascade and attachment links
// null out at the schema level. Authorization happens in the caller.
func (ms *messageService) DeleteMessage(ctx context.Context, messageID int) error {
	tag, err := ms.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		ms.log.Errorf("delete message %d: %v", messageID, err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrMessageNotFound
	}
	ms.log.Infof("message %d deleted", messageID)
	return nil
}

// UpsertAction keeps at most one reaction per (message, user): a new value
// replaces the previous one.
func (ms *messageService) UpsertAction(ctx context.Context, messageID, userID int, value string) (*models.MessageAction, error) {
	sqlStr, args, err := psql.Insert("message_actions").
		Columns("message_id", "user_id", "value").
		Values(messageID, userID, value).
		Suffix("ON CONFLICT (message_id, user_id) DO UPDATE SET value = EXCLUDED.value, created_at = NOW() RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	action := &models.MessageAction{MessageID: messageID, UserID: userID, Value: value}
	if err := ms.db.QueryRow(ctx, sqlStr, args...).Scan(&action.ID, &action.CreatedAt); err != nil {
		ms.log.Errorf("upsert action on message %d by user %d: %v", messageID, userID, err)
		return nil, err
	}
	return action, nil
}

// MarkRead flips the caller's read bit forward-only. Returns false when the
// row was already read (or absent), so callers can skip the broadcast.
func (ms *messageService) MarkRead(ctx context.Context, messageID, userID int) (bool, time.Time, error) {
	var readAt time.Time
	err := ms.db.QueryRow(ctx,
		`UPDATE message_statuses
		 SET is_read = TRUE, read_at = NOW(), is_delivered = TRUE, delivered_at = COALESCE(delivered_at, NOW())
		 WHERE message_id = $1 AND user_id = $2 AND is_read = FALSE
		 RETURNING read_at`,
		messageID, userID).Scan(&readAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, time.Time{}, nil
	}
	if err != nil {
		ms.log.Errorf("mark message %d read for user %d: %v", messageID, userID, err)
		return false, time.Time{}, err
	}
	return true, readAt, nil
}

// PendingMessages returns the user's undelivered messages across the given
// rooms, oldest first.
func (ms *messageService) PendingMessages(ctx context.Context, userID int, roomIDs []int) ([]models.Message, error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}

	sqlStr, args, err := psql.Select("m.id", "m.room_id", "m.sender_id", "m.username", "m.text",
		"m.reply_to_id", "f.id", "m.edited", "m.created_at", "m.updated_at").
		From("messages m").
		Join("message_statuses s ON s.message_id = m.id").
		LeftJoin("files f ON f.message_id = m.id").
		Where(squirrel.Eq{"s.user_id": userID, "s.is_delivered": false, "m.room_id": roomIDs}).
		OrderBy("m.id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := ms.db.Query(ctx, sqlStr, args...)
	if err != nil {
		ms.log.Errorf("pending messages for user %d: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Username, &msg.Text,
			&msg.ReplyToID, &msg.FileID, &msg.Edited, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkDelivered flips the delivered bit for the given messages in one batch.
func (ms *messageService) MarkDelivered(ctx context.Context, userID int, messageIDs []int) error {
	if len(messageIDs) == 0 {
		return nil
	}

	sqlStr, args, err := psql.Update("message_statuses").
		Set("is_delivered", true).
		Set("delivered_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"user_id": userID, "message_id": messageIDs, "is_delivered": false}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := ms.db.Exec(ctx, sqlStr, args...); err != nil {
		ms.log.Errorf("mark %d messages delivered for user %d: %v", len(messageIDs), userID, err)
		return err
	}
	ms.log.Infof("marked %d messages delivered for user %d", len(messageIDs), userID)
	return nil
}

func (ms *messageService) GetMessagesByRoomId(ctx context.Context, roomID, offset, limit int) ([]models.Message, error) {
	sqlStr, args, err := psql.Select("m.id", "m.room_id", "m.sender_id", "m.username", "m.text",
		"m.reply_to_id", "f.id", "m.edited", "m.created_at", "m.updated_at").
		From("messages m").
		LeftJoin("files f ON f.message_id = m.id").
		Where(squirrel.Eq{"m.room_id": roomID}).
		OrderBy("m.id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := ms.db.Query(ctx, sqlStr, args...)
	if err != nil {
		ms.log.Errorf("get messages for room %d: %v", roomID, err)
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Username, &msg.Text,
			&msg.ReplyToID, &msg.FileID, &msg.Edited, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (ms *messageService) ActionsForMessages(ctx context.Context, messageIDs []int) (map[int][]models.MessageAction, error) {
	result := make(map[int][]models.MessageAction)
	if len(messageIDs) == 0 {
		return result, nil
	}

	sqlStr, args, err := psql.Select("id", "message_id", "user_id", "value", "created_at").
		From("message_actions").
		Where(squirrel.Eq{"message_id": messageIDs}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := ms.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a models.MessageAction
		if err := rows.Scan(&a.ID, &a.MessageID, &a.UserID, &a.Value, &a.CreatedAt); err != nil {
			return nil, err
		}
		result[a.MessageID] = append(result[a.MessageID], a)
	}
	return result, rows.Err()
}

func (ms *messageService) StatusesForMessages(ctx context.Context, messageIDs []int) (map[int][]models.MessageStatus, error) {
	result := make(map[int][]models.MessageStatus)
	if len(messageIDs) == 0 {
		return result, nil
	}

	sqlStr, args, err := psql.Select("id", "message_id", "user_id", "is_delivered", "delivered_at", "is_read", "read_at").
		From("message_statuses").
		Where(squirrel.Eq{"message_id": messageIDs}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := ms.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s models.MessageStatus
		if err := rows.Scan(&s.ID, &s.MessageID, &s.UserID, &s.IsDelivered, &s.DeliveredAt, &s.IsRead, &s.ReadAt); err != nil {
			return nil, err
		}
		result[s.MessageID] = append(result[s.MessageID], s)
	}
	return result, rows.Err()
}
