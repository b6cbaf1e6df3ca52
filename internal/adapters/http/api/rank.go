package api

import (
	"net/http"
	"net/url"
	"strings"
)

// RankHandler handles rank requests.
type RankHandler struct {
	lb Leaderboard
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(lb Leaderboard) *RankHandler {
	return &RankHandler{lb: lb}
}

// HandleGetRank handles GET /rank/{player_name}.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	raw := strings.TrimPrefix(r.URL.EscapedPath(), "/rank/")
	player, err := url.PathUnescape(raw)
	if err != nil || player == "" || strings.Contains(raw, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	entry, err := h.lb.Rank(r.Context(), player)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
