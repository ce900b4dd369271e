package ledger

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
)

const (
	maxJSONBodyBytes = 1 << 20
	defaultExtendHrs = 24
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type createRequest struct {
	UID   string `json:"uid"`
	Hours int    `json:"hours"`
}

type extendRequest struct {
	Hours *int `json:"hours"`
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListAll(r.Context())
	if err != nil {
		writeLedgerError(w, err, "failed to list uids")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListActive(r.Context())
	if err != nil {
		writeLedgerError(w, err, "failed to list active uids")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) ListExpired(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListExpired(r.Context())
	if err != nil {
		writeLedgerError(w, err, "failed to list expired uids")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	uid, err := NormalizeUID(r.PathValue("uid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.ledger.GetUID(r.Context(), uid)
	if err != nil {
		writeLedgerError(w, err, "failed to get uid")
		return
	}

	writeJSON(w, http.StatusOK, entry)
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

	uid, err := NormalizeUID(body.UID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ValidateHours(body.Hours); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.ledger.CreateUID(r.Context(), uid, body.Hours)
	if err != nil {
		writeLedgerError(w, err, "failed to create uid")
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// Extend resets the expiry of a uid to now+hours, creating it when missing.
func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	uid, err := NormalizeUID(r.PathValue("uid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body extendRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	hours := defaultExtendHrs
	if body.Hours != nil {
		hours = *body.Hours
	}
	if err := ValidateHours(hours); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.ledger.AddUID(r.Context(), uid, hours)
	if err != nil {
		writeLedgerError(w, err, "failed to extend uid")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, err := NormalizeUID(r.PathValue("uid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed, err := h.ledger.RemoveUID(r.Context(), uid)
	if err != nil {
		writeLedgerError(w, err, "failed to delete uid")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, ErrUIDNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) ClearAll(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.ledger.ClearAll(r.Context())
	if err != nil {
		writeLedgerError(w, err, "failed to clear uids")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deletedCount": deleted})
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.ledger.CleanupExpired(r.Context())
	if err != nil {
		writeLedgerError(w, err, "failed to cleanup uids")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deletedCount": deleted})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Statistics(r.Context())
	if err != nil {
		writeLedgerError(w, err, "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func writeLedgerError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidHours), errors.Is(err, ErrInvalidUID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUIDExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrUIDNotFound):
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
