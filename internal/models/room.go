package models

import (
	"time"
)

const (
	RoomTypePrivate = "private"
	RoomTypeGroup   = "group"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

type Room struct {
	ID          int       `json:"id" db:"id"`
	Type        string    `json:"type" db:"type"`
	Name        *string   `json:"name,omitempty" db:"name"`
	Handle      *string   `json:"handle,omitempty" db:"handle"`
	Description *string   `json:"description,omitempty" db:"description"`
	PictureURL  *string   `json:"picture_url,omitempty" db:"picture_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type RoomMember struct {
	ID       int       `json:"id" db:"id"`
	RoomID   int       `json:"room_id" db:"room_id"`
	UserID   int       `json:"user_id" db:"user_id"`
	Role     string    `json:"role" db:"role"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

type RoomWithRole struct {
	Room
	Role string `json:"role"`
}
