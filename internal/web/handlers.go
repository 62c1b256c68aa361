package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"Fabelwerk/server/internal/engine"
	"Fabelwerk/server/internal/logger"
	"Fabelwerk/server/internal/prompts"
)

const healthTimeout = 2 * time.Second

// Pinger is a backing service the health check probes
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	engine *engine.StoryEngine
	checks map[string]Pinger
	log    *logger.Logger
}

func NewHandlers(storyEngine *engine.StoryEngine, checks map[string]Pinger, log *logger.Logger) *Handlers {
	return &Handlers{
		engine: storyEngine,
		checks: checks,
		log:    logger.OrNop(log).With("component", "web"),
	}
}

// HealthCheck reports "ok" or "degraded" with the error of every failing dependency.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			status = "degraded"
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"service":      "fabelwerk",
		"dependencies": deps,
	})
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/metrics/continuity", h.ContinuityMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/stories/prompt", h.PreviewPrompt)
		r.Post("/episodes", h.GenerateEpisode)
		r.Post("/continuity/merge", h.MergeContinuity)
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps pipeline errors onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *prompts.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Kind: string(cfgErr.Kind)})
	case errors.Is(err, engine.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrSeriesBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrMalformedOutput):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	default:
		h.log.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
