package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jennylee1996/speech-to-text-service/internal/audio"
	"github.com/jennylee1996/speech-to-text-service/internal/batch"
	"github.com/jennylee1996/speech-to-text-service/internal/codec"
	"github.com/jennylee1996/speech-to-text-service/internal/config"
	"github.com/jennylee1996/speech-to-text-service/internal/metrics"
	"github.com/jennylee1996/speech-to-text-service/internal/session"
)

// maxAudioBody bounds request bodies on the audio ingestion endpoints
const maxAudioBody = 32 << 20 // 32 MiB

// HTTPServer provides the HTTP and WebSocket API surface
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	registry    *session.Registry
	batchClient *batch.Client
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates the API server with all routes configured
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, registry *session.Registry, batchClient *batch.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		registry:    registry,
		batchClient: batchClient,
		metrics:     m,
		startTime:   time.Now(),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin(cfg.AllowedOrigins),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	h.setupRoutes(r)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return h
}

// setupRoutes configures the API routes
func (h *HTTPServer) setupRoutes(r chi.Router) {
	r.Route("/api/streaming", func(r chi.Router) {
		r.Post("/start", h.withMetrics("/api/streaming/start", h.handleStart))
		r.Get("/sessions", h.withMetrics("/api/streaming/sessions", h.handleSessions))
		r.Get("/sessions/{id}", h.withMetrics("/api/streaming/sessions/{id}", h.handleSessionDetail))
		r.Post("/sessions/{id}/audio", h.withMetrics("/api/streaming/sessions/{id}/audio", h.handleAudio))
		r.Post("/sessions/{id}/end", h.withMetrics("/api/streaming/sessions/{id}/end", h.handleEnd))
		r.Get("/events", h.withMetrics("/api/streaming/events", h.handleEvents))
	})

	r.Get("/ws", h.handleWebSocket)
	r.Post("/api/transcribe", h.withMetrics("/api/transcribe", h.handleTranscribe))

	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// checkOrigin builds the WebSocket origin check from the CORS allow list
func (h *HTTPServer) checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

type startRequest struct {
	SessionID string `json:"session_id"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// handleStart implements POST /api/streaming/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil {
		// Body is optional; an empty or absent body requests a generated id
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	sess, err := h.registry.Start(r.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("Failed to start session", slog.String("error", err.Error()))
		http.Error(w, "Failed to connect to transcription endpoint", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(startResponse{
		SessionID: sess.ID,
		State:     sess.State().String(),
	})
}

// handleAudio implements POST /api/streaming/sessions/{id}/audio
func (h *HTTPServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	chunk, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		http.Error(w, "Failed to read audio data", http.StatusBadRequest)
		return
	}
	if len(chunk) == 0 {
		http.Error(w, "Empty audio chunk", http.StatusBadRequest)
		return
	}

	sess, err := h.registry.ForAudio(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to resolve session for audio",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Failed to connect to transcription endpoint", http.StatusBadGateway)
		return
	}

	if err := sess.SendAudio(chunk); err != nil {
		if errors.Is(err, session.ErrSessionNotReady) {
			http.Error(w, "Session is not accepting audio", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to forward audio", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleEnd implements POST /api/streaming/sessions/{id}/end
func (h *HTTPServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.registry.Get(id); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.registry.Remove(id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"session_id": id,
		"state":      "closed",
	})
}

// handleSessions implements GET /api/streaming/sessions
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.AllSessions()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements GET /api/streaming/sessions/{id}
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.registry.Get(id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.Info())
}

// handleEvents implements GET /api/streaming/events as a server-sent event
// stream for one session's transcript events
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		http.Error(w, "sessionId query parameter required", http.StatusBadRequest)
		return
	}

	sess, err := h.registry.Get(id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := session.NewChannelSink(64)
	sess.Attach(sink)
	defer func() {
		sess.Detach()
		sink.Close()
	}()

	for {
		select {
		case ev := <-sink.C:
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()

		case <-sess.Done():
			// Drain anything delivered before the session closed
			for {
				select {
				case ev := <-sink.C:
					if err := writeSSE(w, ev); err != nil {
						return
					}
					flusher.Flush()
				default:
					return
				}
			}

		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w io.Writer, ev codec.TranscriptEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// handleWebSocket implements GET /ws: binary frames carry audio in, JSON
// text frames carry transcript events out. The connection owns its session;
// closing the socket ends the session.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	id := r.URL.Query().Get("sessionId")
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := h.registry.GetOrCreate(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to create session for WebSocket client",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		conn.WriteJSON(codec.TranscriptEvent{
			SessionID: id,
			Kind:      codec.KindError,
			Error:     "failed to connect to transcription endpoint",
		})
		return
	}
	defer h.registry.Remove(id)

	sink := session.NewChannelSink(64)
	sess.Attach(sink)
	defer func() {
		sess.Detach()
		sink.Close()
	}()

	// Writer goroutine: the only writer on this connection
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case ev := <-sink.C:
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-sess.Done():
				for {
					select {
					case ev := <-sink.C:
						if err := conn.WriteJSON(ev); err != nil {
							return
						}
					default:
						conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
							time.Now().Add(time.Second))
						return
					}
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.SendAudio(data); err != nil {
				h.logger.Debug("Dropping WebSocket audio chunk",
					slog.String("session_id", id),
					slog.String("error", err.Error()),
				)
			}

		case websocket.TextMessage:
			var ctrl struct {
				TerminateSession bool `json:"terminate_session"`
			}
			if err := json.Unmarshal(data, &ctrl); err == nil && ctrl.TerminateSession {
				sess.End()
			}
		}
	}

	sess.End()
	<-writerDone
}

// handleTranscribe implements POST /api/transcribe for pre-recorded audio.
// Raw PCM bodies are wrapped in a WAV container before upload.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		http.Error(w, "Failed to read audio data", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "Empty audio payload", http.StatusBadRequest)
		return
	}

	if !audio.IsWAV(data) {
		sampleRate := h.config.Remote.SampleRate
		wrapped, err := audio.WrapPCM(data, sampleRate)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid PCM audio: %v", err), http.StatusBadRequest)
			return
		}
		data = wrapped
	}

	h.metrics.RecordBatchRequest()
	startTime := time.Now()

	result, err := h.batchClient.Transcribe(r.Context(), data)
	if err != nil {
		h.metrics.RecordBatchFailure(time.Since(startTime).Seconds())
		h.logger.Error("Batch transcription failed", slog.String("error", err.Error()))
		http.Error(w, "Transcription failed", http.StatusBadGateway)
		return
	}

	h.metrics.RecordBatchSuccess(time.Since(startTime).Seconds())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	registryStats := h.registry.Stats()
	batchStats := h.batchClient.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "speech-to-text-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session_registry": map[string]interface{}{
				"status":           "running",
				"active_sessions":  registryStats.ActiveSessions,
				"sessions_created": registryStats.SessionsCreated,
				"sessions_closed":  registryStats.SessionsClosed,
			},
			"batch_transcription": map[string]interface{}{
				"status":          "running",
				"total_requests":  batchStats.TotalRequests,
				"success_rate":    batchStats.SuccessRate,
				"active_requests": batchStats.ActiveRequests,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions":  h.registry.Stats(),
		"batch":     h.batchClient.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":            h.config.HTTP.Port,
			"address":         h.config.HTTP.Address,
			"allowed_origins": h.config.HTTP.AllowedOrigins,
		},
		"remote": map[string]interface{}{
			"url":             h.config.Remote.URL,
			"sample_rate":     h.config.Remote.SampleRate,
			"connect_timeout": h.config.Remote.ConnectTimeout,
			"close_grace":     h.config.Remote.CloseGrace,
			"use_temp_token":  h.config.Remote.UseTempToken,
			// Note: API key is intentionally omitted for security
		},
		"session": map[string]interface{}{
			"pending_events":   h.config.Session.PendingEvents,
			"idle_timeout":     h.config.Session.IdleTimeout,
			"cleanup_interval": h.config.Session.CleanupInterval,
			"lazy_start":       h.config.Session.LazyStart,
		},
		"batch": map[string]interface{}{
			"endpoint":       h.config.Batch.Endpoint,
			"timeout":        h.config.Batch.Timeout,
			"poll_interval":  h.config.Batch.PollInterval,
			"max_retries":    h.config.Batch.MaxRetries,
			"max_concurrent": h.config.Batch.MaxConcurrent,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Speech-to-Text Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                                      "API documentation",
			"POST /api/streaming/start":                  "Start a streaming session",
			"GET /api/streaming/sessions":                "List active sessions",
			"GET /api/streaming/sessions/{id}":           "Get session details",
			"POST /api/streaming/sessions/{id}/audio":    "Send an audio chunk",
			"POST /api/streaming/sessions/{id}/end":      "End a session",
			"GET /api/streaming/events?sessionId={id}":   "Subscribe to transcript events (SSE)",
			"GET /ws":                                    "Bidirectional streaming (WebSocket)",
			"POST /api/transcribe":                       "Batch transcription of pre-recorded audio",
			"GET /health":                                "Service health check",
			"GET /stats":                                 "Service statistics",
			"GET /config":                                "Service configuration",
			"GET /metrics":                               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
