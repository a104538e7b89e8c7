package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/domain"
)

// errBadJSON marks a request body that is not the expected JSON document.
var errBadJSON = errors.New("malformed json body")

// updateRequest is the PATCH body. Absent or null members are not updated.
type updateRequest struct {
	Name           *string        `json:"name"`
	BlockReference *string        `json:"blockref"`
	Data           map[string]any `json:"data"`
}

// handleCreate implements POST /block_data/.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var flat domain.FlatBlock
	if err := h.decode(w, r, &flat); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	var rec domain.BlockRecord
	err := h.Tx.InTx(r.Context(), func(db app.DBTX) error {
		var err error
		rec, err = h.Service.Create(r.Context(), db, flat)
		return err
	})
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleReadByID implements GET /block_data/{id}.
func (h *Handler) handleReadByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.read(w, r, func(db app.DBTX) (domain.FlatBlock, error) {
		return h.Service.ReadByID(r.Context(), db, id)
	})
}

// handleReadByName implements GET /block_data/name/{name}.
func (h *Handler) handleReadByName(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.read(w, r, func(db app.DBTX) (domain.FlatBlock, error) {
		return h.Service.ReadByName(r.Context(), db, name)
	})
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request, fn func(app.DBTX) (domain.FlatBlock, error)) {
	var flat domain.FlatBlock
	err := h.Tx.InTx(r.Context(), func(db app.DBTX) error {
		var err error
		flat, err = fn(db)
		return err
	})
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, flat)
}

// handleUpdate implements PATCH /block_data/name/{name}.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	name := r.PathValue("name")
	upd := domain.BlockUpdate{Name: req.Name, BlockReference: req.BlockReference, Data: req.Data}
	h.mutate(w, r, func(db app.DBTX) (bool, error) {
		return h.Service.Update(r.Context(), db, name, upd)
	})
}

// handleDelete implements DELETE /block_data/name/{name}.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.mutate(w, r, func(db app.DBTX) (bool, error) {
		return h.Service.DeleteByName(r.Context(), db, name)
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(app.DBTX) (bool, error)) {
	var ok bool
	err := h.Tx.InTx(r.Context(), func(db app.DBTX) error {
		var err error
		ok, err = fn(db)
		return err
	})
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	if !ok {
		h.writeError(r.Context(), w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads exactly one JSON document from the size-limited body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := r.Body
	if h.MaxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBody)
	}
	defer body.Close()
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return tooLarge
		}
		return fmt.Errorf("%w: %v", errBadJSON, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return tooLarge
		}
		return fmt.Errorf("%w: trailing data", errBadJSON)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
