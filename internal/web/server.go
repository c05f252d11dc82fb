package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/vbonduro/yardwise/internal/service"
)

// analysisService is the subset of service.AnalysisService the handlers use.
type analysisService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResponse, error)
	GetStatus(ctx context.Context, id string) (*service.StatusView, error)
	UploadPhoto(ctx context.Context, data []byte) (string, error)
}

// PhotoServer serves photos behind signed URLs. Only the local backend needs
// it; object storage backends hand out their own presigned URLs.
type PhotoServer interface {
	Verify(ref, expires, sig string) error
	Get(ctx context.Context, ref string) ([]byte, error)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type Options struct {
	CORSOrigins []string
}

type Server struct {
	service analysisService
	photos  PhotoServer
	db      pinger
	router  chi.Router
	logger  *slog.Logger
}

// NewServer builds the HTTP API. photos may be nil, in which case /photos is
// not routed.
func NewServer(svc analysisService, photos PhotoServer, db pinger, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		service: svc,
		photos:  photos,
		db:      db,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.registerRoutes(opts)
	return s
}

func (s *Server) registerRoutes(opts Options) {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := s.router
	r.Use(func(next http.Handler) http.Handler { return requestLogger(s.logger, next) })
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Post("/photos", s.wrap(s.handleUploadPhoto))
		api.Post("/analyses", s.wrap(s.handleSubmit))
		api.Get("/analyses/{id}", s.wrap(s.handleGetStatus))
	})
	if s.photos != nil {
		r.Get("/photos/{ref}", s.wrap(s.handleGetPhoto))
	}
}

// securityHeaders sets browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer returns an *http.Server for addr so the caller can shut it down.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
