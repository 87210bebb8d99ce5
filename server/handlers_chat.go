package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/twitcher/db"
)

// HandleRecentChat returns the latest logged messages of a channel, newest first.
// Params: channel (required), limit (default 100, max 1000).
func (h *Handlers) HandleRecentChat(w http.ResponseWriter, r *http.Request) {
	if h.opts.DB == nil {
		writeError(w, http.StatusServiceUnavailable, db.ErrNoDSN)
		return
	}
	channel := strings.ToLower(strings.TrimPrefix(r.URL.Query().Get("channel"), "#"))
	if channel == "" {
		writeError(w, http.StatusBadRequest, errors.New("channel required"))
		return
	}
	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	msgs, err := db.RecentChatMessages(r.Context(), h.opts.DB, channel, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []db.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
