// Package sqlite persists leaderboard records in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/stablezoo/internal/adapters/repository"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `CREATE TABLE IF NOT EXISTS leaderboard (
	player        TEXT PRIMARY KEY,
	score         REAL    NOT NULL,
	animals_eaten INTEGER NOT NULL,
	achieved_at   INTEGER NOT NULL,
	flagged       INTEGER NOT NULL DEFAULT 0
)`

// Store implements repository.Persister.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save upserts rec. A stored row is only replaced by a higher score,
// flagged when the same score is saved again as flagged, or given a new
// animal count when the same achievement is saved again.
func (s *Store) Save(ctx context.Context, rec repository.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	player := strings.TrimSpace(rec.Player)
	if player == "" {
		return fmt.Errorf("player is required")
	}
	achieved := rec.AchievedAt
	if achieved.IsZero() {
		achieved = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO leaderboard (player, score, animals_eaten, achieved_at, flagged)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(player) DO UPDATE SET
		   score = excluded.score,
		   animals_eaten = excluded.animals_eaten,
		   achieved_at = excluded.achieved_at,
		   flagged = CASE WHEN excluded.score = leaderboard.score
		     THEN MAX(leaderboard.flagged, excluded.flagged) ELSE excluded.flagged END
		 WHERE excluded.score > leaderboard.score
		    OR (excluded.score = leaderboard.score AND excluded.flagged > leaderboard.flagged)
		    OR (excluded.score = leaderboard.score AND excluded.achieved_at = leaderboard.achieved_at
		        AND excluded.animals_eaten <> leaderboard.animals_eaten)`,
		player, rec.Score, rec.AnimalsEaten, toMillis(achieved), boolToInt(rec.Flagged))
	if err != nil {
		return fmt.Errorf("save leaderboard record: %w", err)
	}
	return nil
}

// LoadAll returns every stored record, best first.
func (s *Store) LoadAll(ctx context.Context) ([]repository.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT player, score, animals_eaten, achieved_at, flagged
		 FROM leaderboard ORDER BY score DESC, achieved_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []repository.Record
	for rows.Next() {
		var (
			rec      repository.Record
			achieved int64
			flagged  int
		)
		if err := rows.Scan(&rec.Player, &rec.Score, &rec.AnimalsEaten, &achieved, &flagged); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		rec.AchievedAt = fromMillis(achieved)
		rec.Flagged = flagged != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard rows: %w", err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
