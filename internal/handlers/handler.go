package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"RoomMessenger/server/internal/appMiddleware"
	"RoomMessenger/server/internal/config"
	"RoomMessenger/server/internal/models"
	"RoomMessenger/server/internal/pool"
	"RoomMessenger/server/internal/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler carries the service layer into the HTTP surface.
type Handler struct {
	rooms      services.RoomService
	messages   services.MessageService
	files      services.FileService
	users      services.UserService
	pool       *pool.Pool
	dispatcher *pool.Dispatcher
	cfg        *config.Config
	log        *zap.SugaredLogger
}

func New(
	rooms services.RoomService,
	messages services.MessageService,
	files services.FileService,
	users services.UserService,
	p *pool.Pool,
	dispatcher *pool.Dispatcher,
	cfg *config.Config,
	log *zap.SugaredLogger,
) *Handler {
	return &Handler{
		rooms:      rooms,
		messages:   messages,
		files:      files,
		users:      users,
		pool:       p,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (int, bool) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func urlParamInt(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// respondError translates service errors into HTTP statuses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrRoomNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrFileNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, models.ErrNotMember),
		errors.Is(err, models.ErrNotSender),
		errors.Is(err, models.ErrNotAllowed),
		errors.Is(err, models.ErrOwnerCannotLeave):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, models.ErrRoomMetadata),
		errors.Is(err, models.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrQuotaExceeded):
		http.Error(w, "Storage quota exceeded", http.StatusRequestEntityTooLarge)
	default:
		h.log.Errorf("internal error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
