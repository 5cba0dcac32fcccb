// Package api exposes the HTTP interface for the curation service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/config"
	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/worker"
)

// previewCandidateCap bounds how much work one preview request may cause.
const previewCandidateCap = 10

// Server wires HTTP handlers to the pipeline stages.
type Server struct {
	router  chi.Router
	curator worker.Curator
	reaper  worker.Reaper
	sage    worker.Sage
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cur worker.Curator, reap worker.Reaper, sg worker.Sage, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		curator: cur,
		reaper:  reap,
		sage:    sg,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(120 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/preview", s.preview)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type previewRequest struct {
	Strategy     pipeline.Strategy `json:"strategy"`
	Threshold    int               `json:"threshold"`
	LanguageCode string            `json:"languageCode"`
	PromptID     *string           `json:"promptId"`
	MaxURLs      int               `json:"maxUrls"`
}

type previewResponse struct {
	Curated   int            `json:"curated"`
	Extracted int            `json:"extracted"`
	Stories   []previewStory `json:"stories"`
}

type previewStory struct {
	URL          string   `json:"url"`
	OriginalURL  string   `json:"originalUrl"`
	Title        string   `json:"title"`
	KeyFindings  []string `json:"keyFindings"`
	LanguageCode string   `json:"languageCode"`
	Irrelevant   bool     `json:"irrelevant"`
}

// preview runs the full pipeline once for an ad-hoc item definition so
// users can try a strategy before saving it. Nothing is scheduled; the
// content and story caches are shared with regular runs.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Strategy.Provider == "" {
		writeError(w, http.StatusBadRequest, "strategy.provider is required")
		return
	}

	item := pipeline.Item{
		ID:           "preview-" + uuid.NewString(),
		Name:         "preview",
		Strategy:     req.Strategy,
		LanguageCode: req.LanguageCode,
		PromptID:     req.PromptID,
		Threshold:    req.Threshold,
		Active:       true,
	}

	candidates, err := s.curator.Curate(r.Context(), item)
	if err != nil {
		writeError(w, previewStatus(err), err.Error())
		return
	}
	limit := req.MaxURLs
	if limit <= 0 || limit > previewCandidateCap {
		limit = previewCandidateCap
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	resp := previewResponse{Curated: len(candidates), Stories: []previewStory{}}
	if len(candidates) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	contents, err := s.reaper.ExtractAll(r.Context(), item.ID, candidates)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp.Extracted = len(contents)

	for _, st := range s.sage.SummarizeAll(r.Context(), item, contents, candidates) {
		resp.Stories = append(resp.Stories, previewStory{
			URL:          st.URL,
			OriginalURL:  st.OriginalURL,
			Title:        st.Title,
			KeyFindings:  st.KeyFindings,
			LanguageCode: st.LanguageCode,
			Irrelevant:   st.SystemMarkedIrrelevant,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func previewStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrProviderMismatch):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
