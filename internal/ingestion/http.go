package ingestion

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/shortsplit/internal/chunkstore"
	"github.com/your-org/shortsplit/internal/delivery"
	"github.com/your-org/shortsplit/internal/pipeline"
)

// multipartOverhead is allowed on top of the chunk ceiling for form fields and
// part headers.
const multipartOverhead = 1 << 20

// HTTPHandler exposes REST endpoints for the upload flow.
type HTTPHandler struct {
	service       *Service
	gate          *delivery.Gate
	webhook       http.Handler
	logger        *zap.Logger
	maxChunkBytes int64
	formMemBytes  int64
	timeout       time.Duration
	router        chi.Router
}

type HandlerOptions struct {
	Gate          *delivery.Gate
	Webhook       http.Handler
	MaxChunkBytes int64
	FormMemBytes  int64
	Timeout       time.Duration
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger, opts HandlerOptions) *HTTPHandler {
	if opts.Gate == nil {
		opts.Gate = delivery.NewGate()
		opts.Gate.MarkReady()
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = chunkstore.DefaultMaxChunkBytes
	}
	if opts.FormMemBytes <= 0 {
		opts.FormMemBytes = 8 << 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTPHandler{
		service:       service,
		gate:          opts.Gate,
		webhook:       opts.Webhook,
		logger:        logger,
		maxChunkBytes: opts.MaxChunkBytes,
		formMemBytes:  opts.FormMemBytes,
		timeout:       opts.Timeout,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	r.Get("/healthz", h.handleHealth)
	r.Get("/api/v1/runs/{runID}", h.handleRun)
	if h.webhook != nil {
		r.Method(http.MethodPost, "/webhook", h.webhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.requireReady)

		r.Post("/api/v1/uploads", h.handleBegin)
		r.Get("/api/v1/uploads/{uploadID}", h.handleStatus)
		r.Post("/api/v1/uploads/{uploadID}/chunks", h.handleChunk)
		r.Post("/api/v1/uploads/{uploadID}/complete", h.handleComplete)

		// Form routes used by the browser uploader.
		r.Post("/init_upload", h.handleBegin)
		r.Post("/upload_chunk", h.handleChunk)
		r.Post("/complete_upload", h.handleComplete)
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.gate.IsReady() {
			writeError(w, http.StatusServiceUnavailable, "Bot is not ready yet. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !h.gate.IsReady() {
		status = "starting"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"ready":  h.gate.IsReady(),
	})
}

type beginRequest struct {
	Filename    string `json:"file_name"`
	TotalChunks int    `json:"total_chunks"`
}

func (h *HTTPHandler) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if isJSON(r) {
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
	} else {
		req.Filename = r.FormValue("file_name")
		if v := r.FormValue("total_chunks"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "total_chunks must be an integer")
				return
			}
			req.TotalChunks = n
		}
	}

	sess, err := h.service.Begin(r.Context(), req.Filename, req.TotalChunks)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"upload_id": sess.ID,
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Status(r.Context(), chi.URLParam(r, "uploadID"))
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":    sess.ID,
		"file_name":    sess.Filename,
		"total_chunks": sess.TotalChunks,
		"received":     sess.Received,
		"missing":      sess.Missing(),
		"complete":     sess.Complete(),
		"updated_at":   sess.UpdatedAt,
	})
}

func (h *HTTPHandler) handleChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "chunk exceeds max size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	uploadID := pathOrForm(r, "uploadID", "upload_id")
	indexRaw := r.FormValue("chunk_index")
	totalRaw := r.FormValue("total_chunks")
	if uploadID == "" || indexRaw == "" || totalRaw == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	index, err := strconv.Atoi(indexRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk_index must be an integer")
		return
	}
	total, err := strconv.Atoi(totalRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "total_chunks must be an integer")
		return
	}

	file, header, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No chunk data provided")
		return
	}
	defer file.Close()

	if header.Size > h.maxChunkBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "chunk exceeds max size limit")
		return
	}

	if err := h.service.WriteChunk(r.Context(), uploadID, index, total, file); err != nil {
		h.writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"success": true,
	})
}

type completeRequest struct {
	UploadID string `json:"upload_id"`
	Filename string `json:"file_name"`
}

func (h *HTTPHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if isJSON(r) && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		req.UploadID = r.FormValue("upload_id")
		req.Filename = r.FormValue("file_name")
	}
	if id := chi.URLParam(r, "uploadID"); id != "" {
		req.UploadID = id
	}
	if req.UploadID == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	result, err := h.service.Complete(r.Context(), req.UploadID, req.Filename)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"message":    "Video uploaded and is being processed. You'll receive the parts shortly.",
		"upload_id":  result.UploadID,
		"run_id":     result.RunID,
		"checksum":   result.Checksum,
		"size_bytes": result.Size,
	})
}

func (h *HTTPHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.RunStatus(chi.URLParam(r, "runID"))
	if errors.Is(err, pipeline.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *HTTPHandler) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chunkstore.ErrSessionNotFound):
		writeError(w, http.StatusBadRequest, "Invalid upload ID")
	case errors.Is(err, chunkstore.ErrChunkTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, chunkstore.ErrUpload):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("upload request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
	}
}

func pathOrForm(r *http.Request, param, field string) string {
	if v := chi.URLParam(r, param); v != "" {
		return v
	}
	return r.FormValue(field)
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
