package vetkd

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const maxRequestSize = 1 << 20

type errorReply struct {
	Error string `json:"error"`
}

// Handler exposes a Client over HTTP in the format HTTPClient speaks.
type Handler struct {
	mux     *http.ServeMux
	service Client
	log     *slog.Logger
}

func NewHandler(service Client, log *slog.Logger) *Handler { // A
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		mux:     http.NewServeMux(),
		service: service,
		log:     log,
	}
	h.mux.HandleFunc("POST "+deriveKeyPath, h.handleDeriveKey)
	h.mux.HandleFunc("POST "+publicKeyPath, h.handlePublicKey)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleDeriveKey(w http.ResponseWriter, r *http.Request) { // A
	var req DeriveKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	reply, err := h.service.DeriveKey(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, reply)
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) { // A
	var req PublicKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	reply, err := h.service.PublicKey(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, reply)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeStatus(w, http.StatusBadRequest, errorReply{Error: "invalid request: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.WarnContext(r.Context(), "derivation failed",
		"requestId", r.Header.Get(RequestIDHeader),
		"error", err)
	h.writeStatus(w, http.StatusUnprocessableEntity, errorReply{Error: err.Error()})
}

func (h *Handler) write(w http.ResponseWriter, v any) {
	h.writeStatus(w, http.StatusOK, v)
}

func (h *Handler) writeStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("failed to write reply", "error", err)
	}
}
