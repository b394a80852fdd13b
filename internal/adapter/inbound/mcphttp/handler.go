package mcphttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// Catalog reports the number of compiled tools.
type Catalog interface {
	Count(ctx context.Context) int
}

// HTTPMetrics records requests and serves the metrics endpoint.
type HTTPMetrics interface {
	RecordHTTPRequest(method, path string, status int, d time.Duration)
	Handler() http.Handler
}

// ServerInfo is reported by the health endpoint.
type ServerInfo struct {
	Version   string
	Mode      string
	Transport string
}

// Handlers struct holds dependencies for the HTTP handlers.
type Handlers struct {
	catalog   Catalog
	metrics   HTTPMetrics
	info      ServerInfo
	startedAt time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(catalog Catalog, metrics HTTPMetrics, info ServerInfo, logger *slog.Logger) *Handlers {
	return &Handlers{
		catalog:   catalog,
		metrics:   metrics,
		info:      info,
		startedAt: time.Now(),
		now:       time.Now,
		logger:    logger.With("component", "mcphttp_handler"),
	}
}

// RegisterRoutes sets up the health and metrics endpoints.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)
	mux.HandleFunc("GET /live", h.handleLive)
	mux.Handle("GET /metrics", h.metrics.Handler())
}

// MountMCP registers the MCP SSE stream and message endpoints.
func (h *Handlers) MountMCP(mux *http.ServeMux, sse, message http.Handler) {
	mux.Handle("GET /sse", sse)
	mux.Handle("POST /message", message)
}

// Wrap applies CORS and request metrics to next.
func (h *Handlers) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")

		if r.Method == http.MethodOptions {
			rec.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(rec, r)
		}

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		h.metrics.RecordHTTPRequest(r.Method, pattern, rec.status, time.Since(start))
		h.logger.Debug("HTTP request served.",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status))
	})
}

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Mode          string  `json:"mode"`
	Transport     string  `json:"transport"`
	Endpoint      string  `json:"endpoint"`
	Tools         int     `json:"tools"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Timestamp     string  `json:"timestamp"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	tools := h.catalog.Count(r.Context())
	status := "healthy"
	if tools == 0 {
		status = "starting"
	}
	now := h.now()
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Version:       h.info.Version,
		Mode:          h.info.Mode,
		Transport:     h.info.Transport,
		Endpoint:      "/sse",
		Tools:         tools,
		UptimeSeconds: math.Round(now.Sub(h.startedAt).Seconds()*100) / 100,
		Timestamp:     now.UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	if tools := h.catalog.Count(r.Context()); tools > 0 {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready", "tools": tools})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status": "not_ready",
		"reason": "Server not initialized",
	})
}

func (h *Handlers) handleLive(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", slog.Any("error", err))
	}
}

// statusRecorder captures the response status. It forwards Flush so SSE streams keep working.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
