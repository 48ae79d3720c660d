package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"RoomMessenger/server/internal/appMiddleware"
	"RoomMessenger/server/internal/config"
	"RoomMessenger/server/internal/db"
	"RoomMessenger/server/internal/handlers"
	"RoomMessenger/server/internal/logger"
	"RoomMessenger/server/internal/pool"
	"RoomMessenger/server/internal/presence"
	"RoomMessenger/server/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	log := logger.New()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	dbPool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer dbPool.Close()

	tracker := presence.NewTracker(cfg.PresenceTTL)

	roomService := services.NewRoomService(dbPool, log)
	messageService := services.NewMessageService(dbPool, tracker, log)
	fileService := services.NewFileService(dbPool, cfg.UploadDir, cfg.MaxStorage, log)
	userService := services.NewUserService(dbPool, log)

	p := pool.NewPool(log)
	dispatcher := pool.NewDispatcher(p, roomService, messageService, userService, tracker, log)

	h := handlers.New(roomService, messageService, fileService, userService, p, dispatcher, cfg, log)

	r := chi.NewRouter()
	r.Use(appMiddleware.Cors(cfg.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(cfg.JWTSecret))

		r.Post("/api/rooms/private", h.CreatePrivateRoom)
		r.Post("/api/rooms/group", h.CreateGroupRoom)
		r.Get("/api/rooms", h.GetRooms)
		r.Get("/api/rooms/{room_id}/members", h.GetMembers)
		r.Post("/api/rooms/{room_id}/members", h.AddMember)
		r.Delete("/api/rooms/{room_id}/members/{user_id}", h.RemoveMember)
		r.Post("/api/rooms/{room_id}/transfer", h.TransferOwnership)
		r.Delete("/api/rooms/{room_id}", h.DeleteRoom)
		r.Get("/api/rooms/{room_id}/messages", h.GetMessages)
		r.Post("/api/files", h.UploadFile)
	})

	// The websocket endpoint authenticates itself so browser clients can
	// pass the token as a query parameter.
	r.Get("/ws", h.WebSocket)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
	log.Info("server stopped")
}
