// Package repository holds the leaderboard store.
package repository

import (
	"context"
	"time"

	"github.com/okian/stablezoo/internal/domain/types"
)

// Record is a player's best result as written by a session.
type Record struct {
	Player       string
	Score        float64
	AnimalsEaten int
	AchievedAt   time.Time
	Flagged      bool
}

// Store provides read/write access to the leaderboard.
type Store interface {
	// Upsert records rec when it beats the player's current score, and
	// refreshes the animals eaten when rec repeats the recorded achievement.
	// Returns true when the stored entry changed.
	Upsert(ctx context.Context, rec Record) (bool, error)

	// Flag marks the player's entry when its score equals score, i.e. when
	// the recorded best came from a banned session.
	Flag(ctx context.Context, player string, score float64) error

	// Rank returns the player's ranked entry or ErrNotFound.
	Rank(ctx context.Context, player string) (types.Entry, error)

	// TopN returns the best n entries with contiguous ranks starting at 1.
	TopN(ctx context.Context, n int) ([]types.Entry, error)

	// Count returns the number of players tracked.
	Count(ctx context.Context) int
}

// Persister durably stores leaderboard records.
type Persister interface {
	Save(ctx context.Context, rec Record) error
}
