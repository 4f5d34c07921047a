package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scribe/internal/transcript"
)

type TranscriptsHandler struct {
	store transcript.Store
}

func NewTranscriptsHandler(store transcript.Store) *TranscriptsHandler {
	return &TranscriptsHandler{store: store}
}

type transcriptListResponse struct {
	SessionID   string                   `json:"session_id"`
	Transcripts []*transcript.Transcript `json:"transcripts"`
	Total       int                      `json:"total"`
}

// ListTranscripts returns every transcript of a session in creation order.
func (h *TranscriptsHandler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathString(r, "session_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.store.ListBySession(r.Context(), sessionID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("session_id", sessionID).Msg("failed to list transcripts")
		WriteError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	if list == nil {
		list = []*transcript.Transcript{}
	}
	WriteJSON(w, http.StatusOK, transcriptListResponse{
		SessionID:   sessionID,
		Transcripts: list,
		Total:       len(list),
	})
}

// GetTranscript returns one transcript by session and message ID.
func (h *TranscriptsHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathString(r, "session_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	messageID, err := PathString(r, "message_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := transcript.Key{SessionID: sessionID, MessageID: messageID}
	t, err := h.store.Get(r.Context(), key)
	if errors.Is(err, transcript.ErrNotFound) {
		WriteErrorDetail(w, http.StatusNotFound, "transcript not found", key.String())
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key.String()).Msg("failed to get transcript")
		WriteError(w, http.StatusInternalServerError, "failed to get transcript")
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// Routes registers transcript routes on the given router.
func (h *TranscriptsHandler) Routes(r chi.Router) {
	r.Get("/sessions/{session_id}/transcripts", h.ListTranscripts)
	r.Get("/sessions/{session_id}/transcripts/{message_id}", h.GetTranscript)
}
