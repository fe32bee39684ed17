// Package server exposes the PO template pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"poflow/internal/config"
	"poflow/internal/convert"
	"poflow/internal/extract"
	"poflow/internal/logging"
	"poflow/internal/mailer"
	"poflow/internal/pipeline"
	"poflow/internal/registry"
	"poflow/internal/storage"
	"poflow/internal/uploads"
)

const defaultMaxUpload = 10 << 20

type Deps struct {
	Pipeline  *pipeline.ProcessingService
	Uploads   *uploads.Store
	Gateway   storage.Gateway
	Matcher   *registry.Matcher
	Extractor *extract.Extractor
	Converter *convert.Converter
	Mailer    *mailer.Service
	Profile   config.Profile

	Production     bool
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Server struct {
	deps   Deps
	router *chi.Mux
}

func New(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUpload
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(os.TempDir())
	}
	s := &Server{deps: deps, router: chi.NewRouter()}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/po-template", func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/environment", s.handleEnvironment)
		r.Get("/statistics", s.handleStatistics)
		r.Post("/reset-mock-db", s.handleResetMock)

		r.Post("/upload", s.handleUpload)
		r.Post("/validate", s.handleValidate)
		r.Post("/vendors/validate", s.handleVendorsValidate)
		r.Post("/save", s.handleSave)
		r.Post("/extract-sheets", s.handleExtract)
		r.Post("/convert-to-pdf", s.handleConvert)
		r.Post("/send-email", s.handleSendEmail)
		r.Post("/process-complete", s.handleProcessComplete)

		r.Post("/uploads/{uploadID}/process", s.handleProcessUpload)
		r.Get("/uploads/{uploadID}/report", s.handleReport)
		r.Get("/uploads/{uploadID}/files/{kind}", s.handleDownload)
	})
}

type actorKey struct{}

// requireUser takes the caller's identity from X-User-ID, set by the session
// layer in front of this service.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if id == "" {
			writeError(w, r, http.StatusUnauthorized, "", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, id)))
	})
}

func actorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"ms", time.Since(start).Milliseconds(),
		)
	})
}
