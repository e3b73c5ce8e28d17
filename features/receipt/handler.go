package receipt

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"receiptiq/backend/internal/extract"
	"receiptiq/backend/internal/middleware"
)

type Handler struct {
	service       *Service
	maxUploadSize int64
}

func NewHandler(service *Service, maxUploadSize int64) *Handler {
	return &Handler{service: service, maxUploadSize: maxUploadSize}
}

// Extract accepts a multipart receipt image and runs it through the
// pipeline. A degraded extraction answers with the failure taxonomy and
// fallback options instead of a plain 500.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "File too large", http.StatusBadRequest)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unable to retrieve image", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	validExts := map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true, ".bmp": true, ".webp": true,
	}
	if !validExts[ext] {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unsupported image type", http.StatusBadRequest)
		return
	}

	image, err := io.ReadAll(file)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to read image", http.StatusInternalServerError)
		return
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(image))

	uploadDir := os.Getenv("RECEIPTIQ_UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o750); err != nil {
		slog.Error("failed to create upload directory", "error", err, "path", filepath.Clean(uploadDir))
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to create upload directory", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(header.Filename))
	path := filepath.Clean(filepath.Join(uploadDir, filename))
	if err := os.WriteFile(path, image, 0o640); err != nil {
		slog.Error("failed to save image", "error", err, "path", path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to save image", http.StatusInternalServerError)
		return
	}

	rcpt, failure, err := h.service.Extract(r.Context(), userID, path, image, hash)
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			slog.Warn("failed to clean up uploaded image", "error", removeErr, "path", path)
		}
		if errors.Is(err, ErrDuplicate) {
			h.writeError(r.Context(), w, "CONFLICT", "Receipt already submitted", http.StatusConflict)
			return
		}
		slog.Error("extraction request failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if failure != nil {
		h.writeDegraded(r.Context(), w, rcpt, failure)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": rcpt}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// CreateManual stores a user-entered receipt without OCR.
func (h *Handler) CreateManual(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Merchant  string             `json:"merchant"`
		IssuedAt  *time.Time         `json:"issuedAt"`
		Total     *float64           `json:"total"`
		LineItems []extract.LineItem `json:"lineItems"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Merchant == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "merchant is required", http.StatusBadRequest)
		return
	}

	rcpt := &Receipt{
		UserID:    userID,
		Merchant:  req.Merchant,
		IssuedAt:  req.IssuedAt,
		Total:     req.Total,
		LineItems: req.LineItems,
	}
	if err := h.service.CreateManual(r.Context(), rcpt); err != nil {
		slog.Error("manual receipt creation failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": rcpt}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	rcpt, err := h.service.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Receipt not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": rcpt}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	receipts, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []Receipt{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": receipts,
		"meta": map[string]int{"count": len(receipts)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(r.Context(), r.PathValue("id"), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Receipt not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeDegraded(ctx context.Context, w http.ResponseWriter, rcpt *Receipt, failure *extract.Classified) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(failure.Status)

	resp := map[string]interface{}{
		"error":       true,
		"code":        string(failure.Code),
		"message":     failure.Message,
		"remediation": failure.Remediation,
		"fallback": map[string]bool{
			"canManualEntry":    failure.CanManualEntry,
			"canReprocessLater": failure.CanReprocessLater,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	if rcpt != nil {
		resp["receiptId"] = rcpt.ID
	}
	if failure.RetryAfter > 0 {
		resp["retryAfter"] = int(failure.RetryAfter.Seconds())
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode degraded response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
