package repository

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/atlas/internal/domain/types"
	"github.com/okian/atlas/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: composite DESC, then store ID ASC (deterministic).
// "less" means ranks earlier, so an in-order traversal yields the
// leaderboard from best to worst.

// scoreScale controls fixed-point scaling from float64. Composites live on
// the 1–5 scale, so 12 decimals are far from overflowing int64.
const scoreScale = 1_000_000_000_000

const defaultTopCacheSize = 500

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	switch {
	case math.IsNaN(x):
		return 0
	case math.IsInf(x, 1):
		return scoreFP(math.MaxInt64)
	case math.IsInf(x, -1):
		return scoreFP(math.MinInt64)
	}
	scaled := x * scoreScale
	if scaled > float64(math.MaxInt64) {
		return scoreFP(math.MaxInt64)
	}
	if scaled < float64(math.MinInt64) {
		return scoreFP(math.MinInt64)
	}
	return scoreFP(math.Round(scaled))
}

// record keeps the ranking key plus the published scores.
type record struct {
	key   scoreFP
	score types.Score
}

// Snapshot is an immutable view of the ranking, rebuilt after writes.
type Snapshot struct {
	RankByStore map[string]int
	// TopCache holds the leading entries in rank order.
	TopCache []Entry
}

type node struct {
	id    string
	key   scoreFP
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

// less reports whether (aKey, aID) ranks before (bKey, bID).
func less(aKey scoreFP, aID string, bKey scoreFP, bID string) bool {
	if aKey != bKey {
		return aKey > bKey
	}
	return aID < bID
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

// priority derives a heap priority from the store id so that tree shape
// does not depend on insertion order.
func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n *node, id string, key scoreFP) *node {
	if n == nil {
		return &node{id: id, key: key, prio: priority(id), size: 1}
	}
	if less(key, id, n.key, n.id) {
		n.left = insert(n.left, id, key)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, key)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, key scoreFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case key == n.key && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, key)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, key)
		}
	case less(key, id, n.key, n.id):
		n.left = deleteNode(n.left, id, key)
	default:
		n.right = deleteNode(n.right, id, key)
	}
	fix(n)
	return n
}

// TreapStore ranks stores by composite score.
type TreapStore struct {
	mu           sync.RWMutex
	root         *node
	byID         map[string]record
	topCacheSize int

	// snapshot is nil while a write has not been folded into a new view.
	snapshot atomic.Pointer[Snapshot]
}

// NewTreapStore constructs an empty ranking.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		byID:         make(map[string]record),
		topCacheSize: defaultTopCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put implements Store.Put in O(log n) expected time.
func (s *TreapStore) Put(_ context.Context, score types.Score) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	if score.StoreID == "" {
		metrics.RecordErrorByComponent("repository", "empty_store_id")
		return ErrEmptyStoreID
	}
	key := toFixedPoint(score.Composite)

	s.mu.Lock()
	if old, ok := s.byID[score.StoreID]; ok {
		s.root = deleteNode(s.root, score.StoreID, old.key)
	}
	s.byID[score.StoreID] = record{key: key, score: score}
	s.root = insert(s.root, score.StoreID, key)
	count := len(s.byID)
	s.snapshot.Store(nil)
	s.mu.Unlock()

	metrics.UpdateStoresRanked(count)
	return nil
}

// Rank returns the rank and scores of a store.
func (s *TreapStore) Rank(_ context.Context, storeID string) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	snap := s.currentSnapshot()

	s.mu.RLock()
	rec, ok := s.byID[storeID]
	s.mu.RUnlock()
	rank, ranked := snap.RankByStore[storeID]
	if !ok || !ranked {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, ErrNotFound
	}
	return entryOf(rank, rec.score), nil
}

// TopN returns the top n entries. n beyond the store size returns every entry.
func (s *TreapStore) TopN(_ context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	snap := s.currentSnapshot()
	if n <= len(snap.TopCache) {
		out := make([]Entry, n)
		copy(out, snap.TopCache[:n])
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, min(n, len(s.byID)))
	collect(s.root, n, s.byID, &out)
	assignDenseRanks(out)
	return out, nil
}

// Count returns the number of ranked stores.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Reset drops every entry.
func (s *TreapStore) Reset(_ context.Context) {
	s.mu.Lock()
	s.root = nil
	s.byID = make(map[string]record)
	s.snapshot.Store(nil)
	s.mu.Unlock()
	metrics.UpdateStoresRanked(0)
}

// Snapshot returns the current immutable view of the ranking.
func (s *TreapStore) Snapshot() *Snapshot {
	return s.currentSnapshot()
}

func (s *TreapStore) currentSnapshot() *Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return snap
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.buildSnapshot()
	s.snapshot.Store(snap)
	return snap
}

// buildSnapshot assumes the read lock is held.
func (s *TreapStore) buildSnapshot() *Snapshot {
	all := make([]Entry, 0, len(s.byID))
	collect(s.root, len(s.byID), s.byID, &all)
	assignDenseRanks(all)

	ranks := make(map[string]int, len(all))
	for _, e := range all {
		ranks[e.StoreID] = e.Rank
	}
	top := all[:min(s.topCacheSize, len(all))]
	return &Snapshot{RankByStore: ranks, TopCache: top}
}

// collect appends up to limit entries in rank order.
func collect(n *node, limit int, byID map[string]record, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collect(n.left, limit, byID, out)
	if len(*out) < limit {
		if rec, ok := byID[n.id]; ok {
			*out = append(*out, entryOf(0, rec.score))
		}
	}
	if len(*out) < limit {
		collect(n.right, limit, byID, out)
	}
}

func entryOf(rank int, s types.Score) Entry {
	return Entry{Rank: rank, StoreID: s.StoreID, Composite: s.Composite, Value: s.Value, Yield: s.Yield}
}

// assignDenseRanks gives equal composites the same rank; the next distinct
// composite takes the next consecutive rank. Entries must be in rank order.
func assignDenseRanks(entries []Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || toFixedPoint(entries[i].Composite) != toFixedPoint(entries[i-1].Composite) {
			rank++
		}
		entries[i].Rank = rank
	}
}
