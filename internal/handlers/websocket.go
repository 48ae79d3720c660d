package handlers

import (
	"net/http"

	"RoomMessenger/server/internal/appMiddleware"
	"RoomMessenger/server/internal/pool"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket authenticates the caller and upgrades the connection. Rejection
// happens before the upgrade so unauthenticated clients get a plain 401. The
// session starts with no joined rooms; the client sends join_rooms to
// subscribe.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID, username, err := appMiddleware.ParseToken(appMiddleware.TokenFromRequest(r), h.cfg.JWTSecret)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade for user %d: %v", userID, err)
		return
	}

	s := pool.NewSession(conn, userID, username, h.log)
	h.dispatcher.Connect(s)

	go s.WritePump()
	s.ReadPump(r.Context(), h.dispatcher)
}
