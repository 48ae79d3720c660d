package pool

import (
	"time"

	"RoomMessenger/server/internal/models"
)

// Event is an outbound frame, keyed by "type".
type Event map[string]interface{}

func messageEvent(msg *models.Message) Event {
	return Event{
		"type":       "message",
		"message_id": msg.ID,
		"room_id":    msg.RoomID,
		"text":       msg.Text,
		"sender_id":  msg.SenderID,
		"sender":     msg.Username,
		"reply_to":   msg.ReplyToID,
		"file_id":    msg.FileID,
		"created_at": msg.CreatedAt.Format(time.RFC3339),
	}
}

func editEvent(msg *models.Message) Event {
	return Event{
		"type":       "edit_message",
		"message_id": msg.ID,
		"room_id":    msg.RoomID,
		"text":       msg.Text,
		"edited":     msg.Edited,
		"updated_at": msg.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func deleteEvent(messageID int) Event {
	return Event{
		"type":       "delete_message",
		"message_id": messageID,
	}
}

func actionEvent(action *models.MessageAction, username string) Event {
	return Event{
		"type":       "action",
		"message_id": action.MessageID,
		"value":      action.Value,
		"user_id":    action.UserID,
		"user":       username,
		"created_at": action.CreatedAt.Format(time.RFC3339),
	}
}

func readEvent(messageID, userID int, username string, readAt time.Time) Event {
	return Event{
		"type":       "read",
		"message_id": messageID,
		"user_id":    userID,
		"user":       username,
		"read_at":    readAt.Format(time.RFC3339),
	}
}

func typingEvent(roomID, userID int, username string, isTyping bool) Event {
	return Event{
		"type":      "typing",
		"room_id":   roomID,
		"user_id":   userID,
		"user":      username,
		"is_typing": isTyping,
	}
}

// ClearedEvent tells live members a room and its history are gone.
func ClearedEvent(roomID int) Event {
	return Event{
		"type":    "cleared",
		"room_id": roomID,
	}
}

func errorEvent(detail string) Event {
	return Event{
		"type":  "error",
		"error": detail,
	}
}
