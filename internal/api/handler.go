// Package api is the HTTP front door: job submission, result polling and
// editing, audit record lookup and the detection endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vnmchuo/visionq/internal/auditlog"
	"github.com/vnmchuo/visionq/internal/detect"
	"github.com/vnmchuo/visionq/internal/job"
	"github.com/vnmchuo/visionq/internal/results"
	"github.com/vnmchuo/visionq/pkg/ratelimit"
)

const defaultMaxUpload = 20 << 20

type Submitter interface {
	Submit(ctx context.Context, req job.Request) (*job.Receipt, error)
}

type RecordReader interface {
	Get(ctx context.Context, id int64) (*auditlog.Record, error)
}

type Handler struct {
	submitter Submitter
	results   results.Store
	records   RecordReader
	detector  detect.Detector
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	maxUpload int64
}

// NewHandler wires the API. limiter may be nil to disable rate limiting.
func NewHandler(submitter Submitter, res results.Store, records RecordReader, detector detect.Detector, limiter *ratelimit.Limiter, logger *slog.Logger) *Handler {
	return &Handler{
		submitter: submitter,
		results:   res,
		records:   records,
		detector:  detector,
		limiter:   limiter,
		logger:    logger,
		maxUpload: defaultMaxUpload,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "API is running"})
	})
	r.Get("/health", h.HandleHealth)

	r.With(h.rateLimit).Post("/submit_task", h.HandleSubmit)

	// /firebase is kept for clients written against the first version of the API.
	for _, prefix := range []string{"/results", "/firebase"} {
		r.Get(prefix+"/{id}", h.HandleGetResult)
		r.Put(prefix+"/{id}", h.HandleUpdateResult)
		r.Delete(prefix+"/{id}", h.HandleDeleteResult)
	}

	r.Get("/records/{id}", h.HandleGetRecord)
	r.Post("/api/v1/detect", h.HandleDetect)

	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": "Async/Producer"})
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := h.submitter.Submit(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, job.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "Provide image_url or text_prompt")
		return
	case errors.Is(err, job.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Failed to queue task")
		return
	default:
		h.logger.Error("submit failed", "error", err, "request_id", chimiddleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Failed to record task")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    receipt.Status,
		"record_id": receipt.RecordID,
		"message":   "Task sent to Worker. Check results later via GET /results/{id}",
	})
}

func (h *Handler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	doc, err := h.results.Get(r.Context(), id)
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Result not found (Worker might be still processing)")
		return
	}
	if err != nil {
		h.logger.Error("result lookup failed", "record_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "result store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": doc})
}

// HandleUpdateResult edits the result store copy only. The audit log keeps
// what the processor wrote.
func (h *Handler) HandleUpdateResult(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	description := r.URL.Query().Get("new_description")
	if description == "" && r.Body != nil {
		var body struct {
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		description = body.Description
	}
	if strings.TrimSpace(description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	doc, err := h.results.UpdateDescription(r.Context(), id, description)
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	if err != nil {
		h.logger.Error("result update failed", "record_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "result store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "Updated", "result": doc})
}

func (h *Handler) HandleDeleteResult(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	if err := h.results.Delete(r.Context(), id); err != nil {
		h.logger.Error("result delete failed", "record_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "result store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Deleted"})
}

func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Get(r.Context(), id)
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	if err != nil {
		h.logger.Error("record lookup failed", "record_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	summary, err := h.detector.Detect(r.Context(), header.Filename, data)
	if errors.Is(err, detect.ErrModelUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "Model not loaded")
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Processing failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		client := clientIP(r)
		allowed, err := h.limiter.Allow(r.Context(), client)
		if err != nil {
			h.logger.Warn("rate limiter unavailable", "client", client, "error", err)
		}
		if err != nil || !allowed {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":       "rate limit exceeded",
				"retry_after": "60s",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return 0, false
	}
	return id, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
