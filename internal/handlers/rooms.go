package handlers

import (
	"encoding/json"
	"net/http"

	"RoomMessenger/server/internal/models"
	"RoomMessenger/server/internal/pool"
)

func (h *Handler) CreatePrivateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID int `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := h.users.GetUserById(r.Context(), req.UserID); err != nil {
		h.respondError(w, err)
		return
	}

	room, err := h.rooms.CreatePrivateRoom(r.Context(), userID, req.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, room)
}

func (h *Handler) CreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        string  `json:"name"`
		Handle      string  `json:"handle"`
		Description *string `json:"description"`
		PictureURL  *string `json:"picture_url"`
		MemberIDs   []int   `json:"member_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	room, err := h.rooms.CreateGroupRoom(r.Context(), userID, req.Name, req.Handle, req.Description, req.PictureURL, req.MemberIDs)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, room)
}

func (h *Handler) GetRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	rooms, err := h.rooms.GetRoomsByUserId(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if rooms == nil {
		rooms = []models.RoomWithRole{}
	}

	respondJSON(w, http.StatusOK, rooms)
}

func (h *Handler) GetMembers(w http.ResponseWriter, r *http.Request) {
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

	members, err := h.rooms.GetMembers(r.Context(), roomID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, members)
}

// AddMember invites a user into a group room. Only admins and the owner may
// invite; private rooms never grow.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	roomID, err := urlParamInt(r, "room_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req struct {
		UserID int `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	room, err := h.rooms.GetRoomById(r.Context(), roomID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if room.Type != models.RoomTypeGroup {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	role, err := h.rooms.MemberRole(r.Context(), roomID, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if role != models.RoleAdmin && role != models.RoleOwner {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if _, err := h.users.GetUserById(r.Context(), req.UserID); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.rooms.AddMember(r.Context(), roomID, req.UserID); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember handles both voluntary leave and admin removal. The removed
// user's live sessions lose access on their next frame: every mutating
// handler re-checks membership.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	roomID, err := urlParamInt(r, "room_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	targetID, err := urlParamInt(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if targetID != userID {
		role, err := h.rooms.MemberRole(r.Context(), roomID, userID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		if role != models.RoleAdmin && role != models.RoleOwner {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	if err := h.rooms.RemoveMember(r.Context(), roomID, targetID); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	roomID, err := urlParamInt(r, "room_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req struct {
		UserID int `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.rooms.TransferOwnership(r.Context(), roomID, userID, req.UserID); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteRoom lets the owner delete a group room, or either member delete a
// private room. Live sessions get a cleared event before the group dissolves.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	roomID, err := urlParamInt(r, "room_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	room, err := h.rooms.GetRoomById(r.Context(), roomID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	role, err := h.rooms.MemberRole(r.Context(), roomID, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if room.Type == models.RoomTypeGroup && role != models.RoleOwner {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := h.rooms.DeleteRoom(r.Context(), roomID); err != nil {
		h.respondError(w, err)
		return
	}

	h.pool.Broadcast(roomID, pool.ClearedEvent(roomID))
	h.pool.DropRoom(roomID)

	w.WriteHeader(http.StatusNoContent)
}
