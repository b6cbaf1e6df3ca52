package repository

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/stablezoo/internal/domain/types"
	"github.com/okian/stablezoo/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: score DESC, then achievement time ASC, then player name ASC.
// "less" means ranks earlier, so an in-order traversal yields the
// leaderboard from best to worst and a node's in-order position is its rank.

// scoreScale controls fixed-point scaling from float64 (6 decimal places).
const scoreScale = 1_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	if math.IsNaN(x) {
		return 0
	}
	scaled := math.Round(x * scoreScale)
	switch {
	case scaled >= math.MaxInt64:
		return scoreFP(math.MaxInt64)
	case scaled <= math.MinInt64:
		return scoreFP(math.MinInt64)
	}
	return scoreFP(scaled)
}

func toFloat(x scoreFP) float64 {
	return float64(x) / scoreScale
}

type record struct {
	score   scoreFP
	at      int64 // unix nanos of the achievement
	eaten   int
	flagged bool
}

type key struct {
	score scoreFP
	at    int64
	name  string
}

// less returns true if a ranks before b.
func less(a, b key) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.at != b.at {
		return a.at < b.at
	}
	return a.name < b.name
}

type node struct {
	k     key
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, k key, prio uint64) *node {
	if n == nil {
		return &node{k: k, prio: prio, size: 1}
	}
	if less(k, n.k) {
		n.left = insert(n.left, k, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, k, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, k key) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.k == k:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, k)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, k)
		}
	case less(k, n.k):
		n.left = deleteNode(n.left, k)
	default:
		n.right = deleteNode(n.right, k)
	}
	fix(n)
	return n
}

// position returns the 0-based in-order index of k.
func position(n *node, k key) int {
	pos := 0
	for n != nil {
		switch {
		case n.k == k:
			return pos + nsize(n.left)
		case less(k, n.k):
			n = n.left
		default:
			pos += nsize(n.left) + 1
			n = n.right
		}
	}
	return -1
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, byName map[string]record, out *[]types.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, byName, out)
	if len(*out) < limit {
		rec := byName[n.k.name]
		*out = append(*out, types.Entry{
			Rank:         len(*out) + 1,
			PlayerName:   n.k.name,
			Score:        toFloat(rec.score),
			AnimalsEaten: rec.eaten,
			Flagged:      rec.flagged,
		})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, byName, out)
	}
}

// snapshot is an immutable view of the leading entries at one write version.
type snapshot struct {
	version uint64
	top     []types.Entry
}

// TreapStore keeps one entry per player. Writes are serialized by mu; TopN
// reads are served from an atomically published snapshot that is rebuilt
// only when a write happened since it was taken.
type TreapStore struct {
	mu           sync.RWMutex
	root         *node
	byName       map[string]record
	version      atomic.Uint64
	snap         atomic.Pointer[snapshot]
	topCacheSize int
	persister    Persister
}

// NewTreapStore constructs an empty store.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		byName:       make(map[string]record),
		topCacheSize: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validate(rec Record) error {
	switch {
	case strings.TrimSpace(rec.Player) == "":
		return fmt.Errorf("%w: empty player", ErrInvalidRecord)
	case math.IsNaN(rec.Score) || math.IsInf(rec.Score, 0) || rec.Score < 0:
		return fmt.Errorf("%w: score %v", ErrInvalidRecord, rec.Score)
	case rec.AnimalsEaten < 0:
		return fmt.Errorf("%w: animals eaten %d", ErrInvalidRecord, rec.AnimalsEaten)
	}
	return nil
}

// Upsert implements Store.Upsert in O(log n) expected time. A score that
// does not beat the recorded one leaves the entry untouched; an equal score
// keeps the earlier achievement. The same achievement reported again (equal
// score and time) refreshes the animals eaten without moving the entry.
func (s *TreapStore) Upsert(ctx context.Context, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validate(rec); err != nil {
		return false, err
	}
	ch, total := s.apply(rec)
	metrics.RecordLeaderboardUpsert(ch == improved)
	if ch == unchanged {
		return false, nil
	}
	metrics.UpdateLeaderboardEntries(total)
	return true, s.persist(ctx, rec)
}

type change int

const (
	unchanged change = iota
	refreshed
	improved
)

func (s *TreapStore) apply(rec Record) (change, int) {
	ns := toFixedPoint(rec.Score)
	at := rec.AchievedAt.UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byName[rec.Player]; ok {
		if ns == old.score && at == old.at {
			if rec.AnimalsEaten == old.eaten {
				return unchanged, len(s.byName)
			}
			old.eaten = rec.AnimalsEaten
			s.byName[rec.Player] = old
			s.version.Add(1)
			return refreshed, len(s.byName)
		}
		if ns <= old.score {
			return unchanged, len(s.byName)
		}
		s.root = deleteNode(s.root, key{score: old.score, at: old.at, name: rec.Player})
	}
	s.byName[rec.Player] = record{score: ns, at: at, eaten: rec.AnimalsEaten, flagged: rec.Flagged}
	s.root = insert(s.root, key{score: ns, at: at, name: rec.Player}, rand.Uint64())
	s.version.Add(1)
	return improved, len(s.byName)
}

// Flag implements Store.Flag.
func (s *TreapStore) Flag(ctx context.Context, player string, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, changed, err := s.markFlagged(player, toFixedPoint(score))
	if err != nil || !changed {
		return err
	}
	return s.persist(ctx, Record{
		Player:       player,
		Score:        toFloat(rec.score),
		AnimalsEaten: rec.eaten,
		AchievedAt:   time.Unix(0, rec.at),
		Flagged:      true,
	})
}

func (s *TreapStore) markFlagged(player string, score scoreFP) (record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byName[player]
	if !ok {
		return record{}, false, ErrNotFound
	}
	if rec.flagged || rec.score != score {
		return rec, false, nil
	}
	rec.flagged = true
	s.byName[player] = rec
	s.version.Add(1)
	return rec, true, nil
}

func (s *TreapStore) persist(ctx context.Context, rec Record) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, rec); err != nil {
		metrics.RecordPersistError()
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Restore loads previously persisted records without writing them back.
func (s *TreapStore) Restore(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := validate(rec); err != nil {
			return err
		}
		if ch, _ := s.apply(rec); ch != improved && rec.Flagged {
			_, _, _ = s.markFlagged(rec.Player, toFixedPoint(rec.Score))
		}
	}
	metrics.UpdateLeaderboardEntries(s.Count(ctx))
	return nil
}

// Rank returns the player's entry in O(log n).
func (s *TreapStore) Rank(ctx context.Context, player string) (types.Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordLeaderboardQueryLatency(time.Since(start).Seconds()) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byName[player]
	if !ok {
		return types.Entry{}, ErrNotFound
	}
	pos := position(s.root, key{score: rec.score, at: rec.at, name: player})
	if pos < 0 {
		return types.Entry{}, ErrNotFound
	}
	return types.Entry{
		Rank:         pos + 1,
		PlayerName:   player,
		Score:        toFloat(rec.score),
		AnimalsEaten: rec.eaten,
		Flagged:      rec.flagged,
	}, nil
}

// TopN returns the top n entries. Requests within the snapshot size do not
// take the lock unless a write happened since the last read.
func (s *TreapStore) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordLeaderboardQueryLatency(time.Since(start).Seconds()) }()

	if n < 1 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if n > s.topCacheSize {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.Entry, 0, min(n, len(s.byName)))
		collectTopN(s.root, n, s.byName, &out)
		return out, nil
	}

	snap := s.snap.Load()
	if snap == nil || snap.version != s.version.Load() {
		snap = s.rebuildSnapshot()
	}
	top := snap.top
	if len(top) > n {
		top = top[:n]
	}
	out := make([]types.Entry, len(top))
	copy(out, top)
	return out, nil
}

func (s *TreapStore) rebuildSnapshot() *snapshot {
	s.mu.RLock()
	snap := &snapshot{
		version: s.version.Load(),
		top:     make([]types.Entry, 0, min(s.topCacheSize, len(s.byName))),
	}
	collectTopN(s.root, s.topCacheSize, s.byName, &snap.top)
	s.mu.RUnlock()

	s.snap.Store(snap)
	metrics.RecordSnapshotRebuild()
	return snap
}

// Count returns the number of players.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}
