package handlers

import (
	"net/http"
	"strconv"

	"RoomMessenger/server/internal/models"
)

const defaultPageSize = 20

// GetMessages serves paginated room history, newest first, with each
// message's reactions and per-recipient delivery state attached.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	roomID, err := urlParamInt(r, "room_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	isMember, err := h.rooms.IsMember(r.Context(), roomID, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !isMember {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 100 {
		limit = defaultPageSize
	}
	offset := (page - 1) * limit

	messages, err := h.messages.GetMessagesByRoomId(r.Context(), roomID, offset, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}

	ids := make([]int, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	actions, err := h.messages.ActionsForMessages(r.Context(), ids)
	if err != nil {
		h.respondError(w, err)
		return
	}
	statuses, err := h.messages.StatusesForMessages(r.Context(), ids)
	if err != nil {
		h.respondError(w, err)
		return
	}

	detailed := make([]models.MessageWithDetails, 0, len(messages))
	for _, msg := range messages {
		detailed = append(detailed, models.MessageWithDetails{
			Message:  msg,
			Actions:  actions[msg.ID],
			Statuses: statuses[msg.ID],
		})
	}

	respondJSON(w, http.StatusOK, detailed)
}
