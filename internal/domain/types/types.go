// Package types contains read shapes shared by the leaderboard and its
// callers.
package types

// Entry is one ranked leaderboard row as sent to clients.
type Entry struct {
	Rank         int     `json:"rank"`
	PlayerName   string  `json:"player_name"`
	Score        float64 `json:"score"`
	AnimalsEaten int     `json:"animals_eaten"`
	// Flagged marks scores recorded by a session that was later banned.
	Flagged bool `json:"flagged,omitempty"`
}
