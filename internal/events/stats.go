package events

import (
	"sync"
	"time"
)

const latencyRingSize = 64

// Stats is a diagnostic-only snapshot of recent completions: a ring
// of the last latencyRingSize completion latencies plus a per-recipe
// completion tally. It never feeds back into scheduling — Kitchen and
// Controller read it only to serve /stats (internal/adminhttp).
type Stats struct {
	mu sync.Mutex

	latencies    [latencyRingSize]time.Duration
	latencyCount int
	nextSlot     int

	completionsByRecipe map[uint32]uint32
	dropsByRecipe       map[uint32]uint32
}

func NewStats() *Stats {
	return &Stats{
		completionsByRecipe: make(map[uint32]uint32),
		dropsByRecipe:       make(map[uint32]uint32),
	}
}

// RecordCompletion appends latency to the ring and bumps the recipe's
// completion tally.
func (s *Stats) RecordCompletion(recipeID uint32, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies[s.nextSlot] = latency
	s.nextSlot = (s.nextSlot + 1) % latencyRingSize
	if s.latencyCount < latencyRingSize {
		s.latencyCount++
	}
	s.completionsByRecipe[recipeID]++
}

// RecordDrop bumps the recipe's dropped tally. Dropped dishes have no
// well-defined "completion" latency, so they feed only the drop
// count, not the latency ring.
func (s *Stats) RecordDrop(recipeID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropsByRecipe[recipeID]++
}

// Snapshot is the JSON-serializable view returned by /stats.
type Snapshot struct {
	RecentLatenciesMS   []int64           `json:"recent_latencies_ms"`
	CompletionsByRecipe map[uint32]uint32 `json:"completions_by_recipe"`
	DropsByRecipe       map[uint32]uint32 `json:"drops_by_recipe"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	latencies := make([]int64, s.latencyCount)
	start := s.nextSlot - s.latencyCount
	if start < 0 {
		start += latencyRingSize
	}
	for i := 0; i < s.latencyCount; i++ {
		latencies[i] = s.latencies[(start+i)%latencyRingSize].Milliseconds()
	}

	byRecipe := make(map[uint32]uint32, len(s.completionsByRecipe))
	for k, v := range s.completionsByRecipe {
		byRecipe[k] = v
	}
	dropsByRecipe := make(map[uint32]uint32, len(s.dropsByRecipe))
	for k, v := range s.dropsByRecipe {
		dropsByRecipe[k] = v
	}

	return Snapshot{RecentLatenciesMS: latencies, CompletionsByRecipe: byRecipe, DropsByRecipe: dropsByRecipe}
}
