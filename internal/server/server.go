package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/engramdb/engram/internal/engine"
	"github.com/engramdb/engram/internal/store"
)

// Server is the engram HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over an engine and version string.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      eng.DB,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/memories", s.handleAddMemory)
		r.Get("/memories/{memoryID}", s.handleGetMemory)
		r.Delete("/memories/{memoryID}", s.handleForget)
		r.Post("/memories/{memoryID}/pin", s.handlePin)
		r.Post("/memories/{memoryID}/unpin", s.handleUnpin)
		r.Post("/memories/{memoryID}/supersede", s.handleSupersede)
		r.Get("/memories/{memoryID}/links", s.handleLinks)

		r.Get("/recall", s.handleRecall)
		r.Post("/consolidate", s.handleConsolidate)
		r.Post("/reward", s.handleReward)
		r.Post("/downscale", s.handleDownscale)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	embedder := "none"
	if s.engine.Embedder != nil {
		embedder = s.engine.Embedder.Model()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"db_path":  s.db.Path,
		"embedder": embedder,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP statuses: invalid input is the
// caller's fault, a missing memory is 404, everything else is on us.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
