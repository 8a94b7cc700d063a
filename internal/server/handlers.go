package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bolstycjw/htx-assignment/internal/apperr"
	"github.com/bolstycjw/htx-assignment/internal/audio"
	"github.com/bolstycjw/htx-assignment/internal/model"
)

const (
	uploadField = "file"
	// multipart parts above this size spill to disk
	multipartMemory = 32 << 20
)

// handlePing implements the /ping endpoint
func (h *HTTPServer) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "pong")
}

// handleASR implements the /asr endpoint
func (h *HTTPServer) handleASR(w http.ResponseWriter, r *http.Request) {
	// answer 503 before reading a body the service cannot use
	if h.status.GetStats().State != model.StateReady.String() {
		h.writeError(w, r, apperr.E(apperr.CodeUnavailable, "HTTPServer.handleASR", "Model is not loaded", nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	upload, err := h.readUpload(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.transcriber.Transcribe(r.Context(), upload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPServer) readUpload(r *http.Request) (audio.Upload, error) {
	const op = "HTTPServer.readUpload"

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return audio.Upload{}, apperr.E(apperr.CodeTooLarge, op, "Uploaded file is too large", err)
		}
		return audio.Upload{}, apperr.E(apperr.CodeInvalidArgument, op, "Request must be multipart/form-data with a 'file' field", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return audio.Upload{}, apperr.E(apperr.CodeInvalidArgument, op, "Field 'file' is required", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return audio.Upload{}, apperr.E(apperr.CodeInternal, op, "Failed to read upload", err)
	}

	return audio.Upload{Filename: header.Filename, Data: data}, nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.status.GetStats()

	status := "healthy"
	if stats.State != model.StateReady.String() {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "asr-service",
			"version": "1.0.0",
		},
		"model": stats,
	}

	writeJSON(w, http.StatusOK, health)
}

// internalMessage is the only text a client sees for a server fault
const internalMessage = "An error occurred during transcription"

// writeError maps err onto the response contract: 500 uses an "error"
// key, every other status uses "detail".
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	msg := apperr.Message(err)

	attrs := []any{
		slog.String("request_id", requestIDFrom(r.Context())),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("Transcription request failed", attrs...)
		writeJSON(w, status, map[string]string{"error": internalMessage})
		return
	}

	h.logger.Warn("Transcription request rejected", attrs...)
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
