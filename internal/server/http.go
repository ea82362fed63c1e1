package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicebridge/audiohook-gateway/internal/audio"
	"github.com/voicebridge/audiohook-gateway/internal/config"
	"github.com/voicebridge/audiohook-gateway/internal/metrics"
	"github.com/voicebridge/audiohook-gateway/internal/session"
)

// API serves the artifact download and monitoring endpoints alongside the
// WebSocket gateway.
type API struct {
	cfg       config.HTTPConfig
	audioDir  string
	logPath   string
	store     *session.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
	startTime time.Time
	server    *http.Server
}

// NewAPI creates the HTTP API server. logPath points at the gateway log file
// when logging targets a file; empty disables the log endpoint.
func NewAPI(cfg config.HTTPConfig, audioDir, logPath string, store *session.Store, m *metrics.Metrics, logger *slog.Logger) *API {
	a := &API{
		cfg:       cfg,
		audioDir:  audioDir,
		logPath:   logPath,
		store:     store,
		metrics:   m,
		logger:    logger,
		startTime: time.Now(),
	}

	a.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler: a.Router(),
	}

	return a
}

// Router builds the chi route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(a.instrument)

	r.Get("/", a.handleIndex)
	r.Get("/health", a.handleHealth)
	r.Get("/sessions", a.handleSessions)
	r.Get("/sessions/{id}", a.handleSession)
	r.Get("/stats", a.handleStats)
	r.Get("/audio/{file}", a.handleArtifact)
	r.Get("/log", a.handleLog)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start serves requests until Shutdown. It blocks.
func (a *API) Start() error {
	a.logger.Info("HTTP API listening",
		slog.String("address", a.server.Addr),
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http api failed: %w", err)
	}

	return nil
}

// Shutdown stops accepting requests and drains the server.
func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// instrument records request metrics with the matched route pattern, so
// per-session paths do not explode label cardinality.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}

		a.metrics.RecordHTTPRequest(r.Method, pattern,
			strconv.Itoa(ww.Status()), time.Since(start).Seconds())
	})
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"service": "audiohook-gateway",
		"endpoints": []string{
			"/health",
			"/sessions",
			"/sessions/{id}",
			"/stats",
			"/audio/{id}.wav",
			"/audio/{id}.raw",
			"/log",
			"/metrics",
		},
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": a.store.Len(),
		"uptime_seconds":  time.Since(a.startTime).Seconds(),
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.store.All()

	infos := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Snapshot())
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, ok := a.store.Get(id)
	if !ok {
		a.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	a.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]int)
	for _, sess := range a.store.All() {
		states[sess.State().String()]++
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": a.store.Len(),
		"states":          states,
		"uptime_seconds":  time.Since(a.startTime).Seconds(),
	})
}

// handleArtifact serves a capture artifact. The file name is rebuilt from
// its sanitized parts, so a crafted id can never reach outside the capture
// directory.
func (a *API) handleArtifact(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")

	ext := strings.TrimPrefix(filepath.Ext(file), ".")
	if ext != "raw" && ext != "wav" {
		a.writeError(w, http.StatusBadRequest, "artifact extension must be .raw or .wav")
		return
	}

	id := strings.TrimSuffix(file, "."+ext)
	path := filepath.Join(a.audioDir, audio.ArtifactName(id, ext))

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		a.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	if ext == "wav" {
		w.Header().Set("Content-Type", "audio/wav")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	http.ServeFile(w, r, path)
}

func (a *API) handleLog(w http.ResponseWriter, r *http.Request) {
	if a.logPath == "" {
		a.writeError(w, http.StatusNotFound, "logging does not target a file")
		return
	}

	if _, err := os.Stat(a.logPath); err != nil {
		a.writeError(w, http.StatusNotFound, "log file not found")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, a.logPath)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("Failed to encode response",
			slog.String("error", err.Error()),
		)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"error": message})
}
