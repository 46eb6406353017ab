// Package server exposes the pipeline over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/KikDevKik/MyWorld-sub004/internal/indexer"
	"github.com/KikDevKik/MyWorld-sub004/internal/pipeline"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// Server routes HTTP requests into the engine.
type Server struct {
	engine       *pipeline.Engine
	rootFolderID string
	log          *zap.Logger
}

func New(engine *pipeline.Engine, rootFolderID string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, rootFolderID: rootFolderID, log: log}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", s.handleIngest)
		r.Post("/classify", s.handleClassify)
		r.Post("/resolve", s.handleResolve)
		r.Post("/entities/{id}/promote", s.handlePromote)
	})

	return r
}

// requestLogger is a zap-backed request log middleware.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	Path     string `json:"path"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Content  string `json:"content"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.engine.Ingest(r.Context(), indexer.IngestDoc{
		Path:     req.Path,
		Name:     req.Name,
		Category: req.Category,
	}, req.Content)
	if err != nil {
		s.log.Error("ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	status := http.StatusOK
	if res.Status == indexer.StatusError {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

type classifyRequest struct {
	Category string `json:"category,omitempty"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	res, err := s.engine.ClassifyEntities(r.Context(), req.Category)
	if err != nil {
		s.log.Error("classification failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "classification failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resolveRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	decision, err := s.engine.ResolveCandidate(entity.Candidate{
		Name: req.Name,
		Kind: entity.ParseKind(req.Kind),
	})
	if err != nil {
		s.log.Error("resolve failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type promoteRequest struct {
	TargetRootID string `json:"targetRootId,omitempty"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	var req promoteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	root := req.TargetRootID
	if root == "" {
		root = s.rootFolderID
	}

	res, err := s.engine.Promote(r.Context(), entityID, root)
	if err != nil {
		s.log.Warn("promotion failed", zap.String("entityId", entityID), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
