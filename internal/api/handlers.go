package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vanishing.keys/internal/secrets"
)

// maxBodyBytes fits the largest payload at its worst-case JSON encoding,
// six bytes per \u00XX escape, plus framing. The payload limit itself is
// enforced on the decoded string by the service.
const maxBodyBytes = 6*secrets.MaxPayloadBytes + 1024

type Handler struct {
	secrets *secrets.Service
}

func NewHandler(svc *secrets.Service) *Handler {
	return &Handler{secrets: svc}
}

// CreateRequest carries the encrypted payload as UTF-8 text, typically an
// armored or base64 ciphertext. Bodies that are not valid UTF-8 are rejected.
type CreateRequest struct {
	EncryptedSecret string `json:"encryptedSecret"`
	Duration        string `json:"duration,omitempty"`
}

type CreateResponse struct {
	SecretID string `json:"secretId"`
}

type RedeemResponse struct {
	EncryptedSecret string `json:"encryptedSecret"`
}

type ErrorResponse struct {
	Title   string `json:"title"`
	ErrorID string `json:"errorId,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.error(w, http.StatusBadRequest, "Encrypted Secret is too long, it must be at most 10240 bytes.")
			return
		}
		h.error(w, http.StatusBadRequest, "Request body could not be read.")
		return
	}
	if !utf8.Valid(body) {
		h.error(w, http.StatusBadRequest, "Request body must be UTF-8 encoded JSON.")
		return
	}

	var req CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.error(w, http.StatusBadRequest, "Request body must be a JSON object with an encryptedSecret string.")
		return
	}

	id, err := h.secrets.Create(r.Context(), req.EncryptedSecret, req.Duration)
	if err != nil {
		var verr *secrets.ValidationError
		if errors.As(err, &verr) {
			h.error(w, http.StatusBadRequest, verr.Message)
			return
		}
		h.internalError(w, r, "Unexpected error")
		return
	}

	h.json(w, http.StatusCreated, CreateResponse{SecretID: id})
}

func (h *Handler) RedeemSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "secretId")

	payload, err := h.secrets.Redeem(r.Context(), id)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.internalError(w, r, "Unexpected error")
		return
	}

	h.json(w, http.StatusOK, RedeemResponse{EncryptedSecret: payload})
}

func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "secretId")

	if err := h.secrets.Delete(r.Context(), id); err != nil {
		h.internalError(w, r, "Unexpected error occurred deleting the secret.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	clog.FromContext(r.Context()).Warn("path not found")
	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, title string) {
	h.json(w, status, ErrorResponse{Title: title})
}

// internalError hides the cause from the caller; the request id ties the
// response to the server-side log line written by the service.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, title string) {
	h.json(w, http.StatusInternalServerError, ErrorResponse{
		Title:   title,
		ErrorID: middleware.GetReqID(r.Context()),
	})
}
