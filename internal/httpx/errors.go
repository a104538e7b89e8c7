package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/haukened/blockvault/internal/domain"
)

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		slog.Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// mapServiceError maps domain/store/service errors to HTTP responses. Only
// validation messages are echoed; they name fields, never payload values.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		slog.Warn("service error", "cid", cid, "code", "size_exceeded", "limit", tooLarge.Limit)
		h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "size exceeded")
	case errors.Is(err, errBadJSON):
		slog.Warn("service error", "cid", cid, "code", "bad_json")
		h.writeError(ctx, w, http.StatusBadRequest, "malformed json body")
	case errors.Is(err, domain.ErrInvalidID):
		slog.Warn("service error", "cid", cid, "code", "invalid_id")
		h.writeError(ctx, w, http.StatusBadRequest, "invalid id")
	case errors.Is(err, domain.ErrInvalidBlock):
		slog.Warn("service error", "cid", cid, "code", "invalid_block")
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		slog.Info("service error", "cid", cid, "code", "not_found")
		h.writeError(ctx, w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrDuplicateName):
		slog.Info("service error", "cid", cid, "code", "duplicate_name")
		h.writeError(ctx, w, http.StatusConflict, "block name already exists")
	case errors.Is(err, domain.ErrDecryptionFailed):
		slog.Error("service error", "cid", cid, "code", "decryption_failed")
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	case errors.Is(err, domain.ErrKeyUnavailable), errors.Is(err, domain.ErrKeyPersistenceFailed):
		slog.Error("service error", "cid", cid, "code", "key_unavailable")
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	default:
		// raw error strings may carry SQL or block names
		slog.Error("unhandled service error", "cid", cid, "code", "unhandled", "err_type", "unknown")
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
