package api

import (
	"fmt"
	"net/http"
	"strconv"
)

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	lb       Leaderboard
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(lb Leaderboard, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{lb: lb, maxLimit: maxLimit}
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N. Without a limit
// the top 20 are returned.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	n := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
			return
		}
		n = v
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", fmt.Errorf("%w (%d)", ErrLimitExceeded, h.maxLimit))
		return
	}
	entries, err := h.lb.TopN(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
