package models

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrRoomNotFound     = errors.New("room not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrFileNotFound     = errors.New("file not found")
	ErrNotMember        = errors.New("user is not a member")
	ErrNotSender        = errors.New("user is not the sender")
	ErrNotAllowed       = errors.New("operation not allowed")
	ErrOwnerCannotLeave = errors.New("owner must transfer ownership before leaving")
	ErrEmptyMessage     = errors.New("message requires text or an attachment")
	ErrRoomMetadata     = errors.New("group room requires name and handle")
	ErrQuotaExceeded    = errors.New("storage limit reached")
)
