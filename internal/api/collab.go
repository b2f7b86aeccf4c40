package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/storyweave/collab/internal/config"
	"github.com/storyweave/collab/internal/database"
	"github.com/storyweave/collab/internal/server"
)

// CollabApp is the external-facing edge of the collaboration server: it
// authenticates connections, checks story permissions, and hands upgraded
// websockets to the room registry.
type CollabApp struct {
	log            *log.Logger
	db             database.CollabRepository
	srv            *http.Server
	cs             *server.CollabServer
	signingKey     []byte
	allowedOrigins []string
}

func NewCollabApp(mux *http.ServeMux, logger *log.Logger, cs *server.CollabServer, db database.CollabRepository, cfg *config.Config) *CollabApp {
	s := &CollabApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.Handle("GET /ws/story/{story_id}", s.authMiddleware(s.serveWs))
	mux.Handle("POST /api/stories/{story_id}/share", s.authMiddleware(s.shareStory))
	mux.Handle("GET /api/stories/{story_id}/permissions", s.authMiddleware(s.getStoryPermissions))
	mux.Handle("GET /api/stories/{story_id}/participants", s.authMiddleware(s.getRoomParticipants))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.srv = srv
	return s
}

func (s *CollabApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *CollabApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
