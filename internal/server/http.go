package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bolstycjw/htx-assignment/internal/asr"
	"github.com/bolstycjw/htx-assignment/internal/audio"
	"github.com/bolstycjw/htx-assignment/internal/metrics"
	"github.com/bolstycjw/htx-assignment/internal/model"
)

// Transcriber runs one upload through the transcription pipeline
type Transcriber interface {
	Transcribe(ctx context.Context, upload audio.Upload) (*asr.Result, error)
}

// ModelStatus reports the model lifecycle for health checks
type ModelStatus interface {
	GetStats() model.LifecycleStats
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Address            string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxUploadBytes     int64
	CORSAllowedOrigins []string
}

// HTTPServer serves the ASR API
type HTTPServer struct {
	server      *http.Server
	router      chi.Router
	logger      *slog.Logger
	config      HTTPServerConfig
	transcriber Transcriber
	status      ModelStatus
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the API server. gatherer backs /metrics.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, transcriber Transcriber,
	status ModelStatus, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		transcriber: transcriber,
		status:      status,
		metrics:     m,
		gatherer:    gatherer,
		startTime:   time.Now(),
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      h.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogger(h.logger))
	if len(h.config.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.config.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/ping", h.withMetrics("/ping", h.handlePing))
	r.Post("/asr", h.withMetrics("/asr", h.handleASR))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
	})

	return r
}

// Handler returns the routed handler, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// Addr returns the listen address
func (h *HTTPServer) Addr() string {
	return h.server.Addr
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

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
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// ListenAndServe serves until Stop is called. It returns nil after a
// graceful shutdown.
func (h *HTTPServer) ListenAndServe() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}
