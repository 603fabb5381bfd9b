package mcts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/brensch/alphasnake/encode"
	"github.com/cespare/xxhash/v2"
)

var ErrUnknownState = errors.New("state was never evaluated")

const storeShards = 64

// EdgeStats are the per-state search statistics, indexed by relative move.
// Q is always Total/Visits.
type EdgeStats struct {
	Visits [3]float32
	Total  [3]float32
	Q      [3]float32
}

func (e *EdgeStats) derive(move int) {
	e.Q[move] = e.Total[move] / e.Visits[move]
}

type storeShard struct {
	mu    sync.Mutex
	stats map[encode.StateKey]*EdgeStats
}

// Store is the transposition table shared by every iteration of one decision
// cycle. Keys are spread over shards by xxhash; each shard has its own lock so
// a backup is atomic per key.
type Store struct {
	shards [storeShards]storeShard
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].stats = make(map[encode.StateKey]*EdgeStats)
	}
	return s
}

func (s *Store) shard(key encode.StateKey) *storeShard {
	return &s.shards[xxhash.Sum64String(string(key))%storeShards]
}

// Lookup returns the current Q-vector for key.
func (s *Store) Lookup(key encode.StateKey) ([3]float32, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.stats[key]
	if !ok {
		return [3]float32{}, false
	}
	return e.Q, true
}

// Stats returns a copy of all statistics for key.
func (s *Store) Stats(key encode.StateKey) (EdgeStats, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.stats[key]
	if !ok {
		return EdgeStats{}, false
	}
	return *e, true
}

// EnsureInitialized seeds key with prior as one visit per move. Existing
// entries are left untouched. The current Q-vector is returned either way.
func (s *Store) EnsureInitialized(key encode.StateKey, prior [3]float32) [3]float32 {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.stats[key]; ok {
		return e.Q
	}
	e := &EdgeStats{
		Visits: [3]float32{1, 1, 1},
		Total:  prior,
	}
	for m := range e.Q {
		e.derive(m)
	}
	sh.stats[key] = e
	return e.Q
}

// Backup records one more visit of (key, move) with the given reward.
func (s *Store) Backup(key encode.StateKey, move int, reward float32) error {
	if move < 0 || move > 2 {
		return fmt.Errorf("backup: move %d out of range", move)
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.stats[key]
	if !ok {
		return fmt.Errorf("backup: %w", ErrUnknownState)
	}
	e.Visits[move] += 1.0
	e.Total[move] += reward
	e.derive(move)
	return nil
}

// Len is the number of distinct states seen this cycle.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.stats)
		sh.mu.Unlock()
	}
	return n
}

// Reset drops every entry.
func (s *Store) Reset() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.stats = make(map[encode.StateKey]*EdgeStats)
		sh.mu.Unlock()
	}
}
