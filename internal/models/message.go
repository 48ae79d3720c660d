package models

import (
	"time"
)

type Message struct {
	ID        int       `json:"id" db:"id"`
	RoomID    int       `json:"room_id" db:"room_id"`
	SenderID  int       `json:"sender_id" db:"sender_id"`
	Username  string    `json:"username" db:"username"`
	Text      *string   `json:"text,omitempty" db:"text"`
	ReplyToID *int      `json:"reply_to,omitempty" db:"reply_to_id"`
	FileID    *int      `json:"file_id,omitempty"`
	Edited    bool      `json:"edited" db:"edited"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type File struct {
	ID          int       `json:"id" db:"id"`
	OwnerID     int       `json:"owner_id" db:"owner_id"`
	MessageID   *int      `json:"message_id,omitempty" db:"message_id"`
	FileName    string    `json:"file_name" db:"file_name"`
	ContentHash string    `json:"-" db:"content_hash"`
	FileType    string    `json:"file_type" db:"file_type"`
	Size        int64     `json:"size" db:"size"`
	Width       *int      `json:"width,omitempty" db:"width"`
	Height      *int      `json:"height,omitempty" db:"height"`
	Duration    *int      `json:"duration,omitempty" db:"duration"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
}

type MessageAction struct {
	ID        int       `json:"id" db:"id"`
	MessageID int       `json:"message_id" db:"message_id"`
	UserID    int       `json:"user_id" db:"user_id"`
	Value     string    `json:"value" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type MessageStatus struct {
	ID          int        `json:"id" db:"id"`
	MessageID   int        `json:"message_id" db:"message_id"`
	UserID      int        `json:"user_id" db:"user_id"`
	IsDelivered bool       `json:"is_delivered" db:"is_delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	IsRead      bool       `json:"is_read" db:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty" db:"read_at"`
}

type MessageWithDetails struct {
	Message
	Actions  []MessageAction `json:"actions,omitempty"`
	Statuses []MessageStatus `json:"statuses,omitempty"`
}
