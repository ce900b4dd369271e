package bot

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type createRequest struct {
	BotToken string `json:"botToken"`
	Name     string `json:"name"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body createRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	view, err := h.manager.Register(r.Context(), body.BotToken, body.Name)
	if err != nil {
		writeBotError(w, err, "failed to create bot")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "bot": view})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.manager.List(r.Context())
	if err != nil {
		writeBotError(w, err, "failed to list bots")
		return
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing bot token")
		return
	}

	if err := h.manager.Delete(r.Context(), token); err != nil {
		writeBotError(w, err, "failed to delete bot")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing bot token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body statusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	status, ok := ParseStatus(body.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "status must be online or offline")
		return
	}

	view, err := h.manager.UpdateStatus(r.Context(), token, status)
	if err != nil {
		writeBotError(w, err, "failed to update bot status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bot": view})
}

func (h *Handler) StatusCheck(w http.ResponseWriter, r *http.Request) {
	checks, err := h.manager.StatusCheck(r.Context())
	if err != nil {
		writeBotError(w, err, "failed to check bot status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bots": checks})
}

func writeBotError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidBot):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBotExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrBotNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
