package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mnemo-labs/go-memory/src/embed"
)

const serviceVersion = "0.1.0"

// Config is the microservice deployment configuration. The engine family is
// fixed at startup, not chosen per request.
type Config struct {
	Engine   string // fastembed or sentence_transformer
	Model    string // default model, pulled at startup
	CacheDir string // model artifact cache
	Addr     string // bind address
}

// ConfigFromEnv reads EMBEDDING_ENGINE, MODEL_NAME and CACHE_DIR with the
// same defaults the reference deployment uses.
func ConfigFromEnv() Config {
	cfg := Config{
		Engine:   embed.EngineFastEmbed,
		Model:    embed.DefaultModel,
		CacheDir: filepath.Join(os.TempDir(), "embedding_service", "cache"),
		Addr:     ":11434",
	}
	if v := os.Getenv("EMBEDDING_ENGINE"); v != "" {
		cfg.Engine = v
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("MEMORY_SERVICE_ADDR"); v != "" {
		cfg.Addr = v
	}
	return cfg
}

// Server hosts the Ollama-compatible embedding surface.
type Server struct {
	cfg   Config
	cache *ModelCache
}

func NewServer(cfg Config, backend Backend) *Server {
	return &Server{cfg: cfg, cache: NewModelCache(backend, cfg.CacheDir)}
}

// Cache exposes the model cache, mainly for inspection.
func (s *Server) Cache() *ModelCache { return s.cache }

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/tags", s.handleTags)
	mux.HandleFunc("/api/pull", s.handlePull)
	mux.HandleFunc("/api/embed", s.handleEmbed)
	return mux
}

// Warmup pulls the configured default model so the common case needs no
// explicit pull call. A failure is logged, not fatal: explicit pulls can
// retry later.
func (s *Server) Warmup(ctx context.Context) {
	log.Printf("starting embedding service: engine=%s default_model=%s", s.cfg.Engine, s.cfg.Model)
	if err := os.MkdirAll(s.cfg.CacheDir, 0o755); err != nil {
		log.Printf("warning: cache dir %s: %v", s.cfg.CacheDir, err)
	}
	if err := s.cache.Pull(ctx, s.cfg.Model); err != nil {
		log.Printf("warning: could not pull default model %s: %v", s.cfg.Model, err)
		return
	}
	log.Printf("default model %s ready", s.cfg.Model)
}

// ListenAndServe runs the service until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type pullRequest struct {
	Name string `json:"name"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "running",
		"engine":        s.cfg.Engine,
		"default_model": s.cfg.Model,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": serviceVersion})
}

func (s *Server) handleTags(w http.ResponseWriter, _ *http.Request) {
	type details struct {
		Family        string `json:"family"`
		ParameterSize string `json:"parameter_size,omitempty"`
	}
	type tag struct {
		Name    string  `json:"name"`
		Model   string  `json:"model"`
		Details details `json:"details"`
	}
	tags := make([]tag, 0)
	for _, info := range s.cache.backend.Models() {
		tags = append(tags, tag{
			Name:    info.Name,
			Model:   info.Name,
			Details: details{Family: info.Family, ParameterSize: info.ParameterSize},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": tags})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"name\": \"<model>\"}")
		return
	}
	log.Printf("pull: %s", req.Name)
	if err := s.cache.Pull(r.Context(), req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"model\": ..., \"prompt\": ...}")
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.Model
	}
	// A not-yet-ready model is provisioned on demand.
	model, err := s.cache.Model(r.Context(), req.Model)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrModelNotReady) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	vec, err := model.Embed(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, embedResponse{Embedding: vec})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
