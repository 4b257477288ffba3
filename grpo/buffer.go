package grpo

import (
	"slices"
	"sync"

	"github.com/zaporter/logic-grpo/logic"
)

const DefaultBufferCapacity = 1000

// EpisodeBuffer holds episodes between policy updates.
// It is FIFO-bounded: adding past capacity evicts the oldest episode.
// All methods are safe for concurrent use.
type EpisodeBuffer struct {
	mu       sync.Mutex
	capacity int
	episodes []Episode
}

func NewEpisodeBuffer(capacity int) *EpisodeBuffer {
	if capacity < 1 {
		capacity = DefaultBufferCapacity
	}
	return &EpisodeBuffer{
		capacity: capacity,
		episodes: make([]Episode, 0, capacity),
	}
}

func (b *EpisodeBuffer) Add(episode Episode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.episodes = append(b.episodes, episode)
	if len(b.episodes) > b.capacity {
		b.episodes = slices.Delete(b.episodes, 0, len(b.episodes)-b.capacity)
	}
}

func (b *EpisodeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.episodes)
}

func (b *EpisodeBuffer) Capacity() int {
	return b.capacity
}

func (b *EpisodeBuffer) TotalTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, ep := range b.episodes {
		total += ep.TokenCount()
	}
	return total
}

// Episodes returns a copy in insertion order.
func (b *EpisodeBuffer) Episodes() []Episode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.episodes)
}

func (b *EpisodeBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.episodes = b.episodes[:0]
}

// Groups chunks the buffer in insertion order into groups of groupSize.
// A trailing chunk with fewer than 2 episodes is dropped, since one episode has no relative advantage.
func (b *EpisodeBuffer) Groups(groupSize int) [][]Episode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return chunkGroups(b.episodes, groupSize)
}

// StratifiedGroups is like Groups but only groups episodes of the same task type,
// so advantages compare answers to the same kind of problem.
// Task types are visited in the order they first appear in the buffer.
func (b *EpisodeBuffer) StratifiedGroups(groupSize int) [][]Episode {
	b.mu.Lock()
	defer b.mu.Unlock()
	order := []logic.TaskType{}
	byType := map[logic.TaskType][]Episode{}
	for _, ep := range b.episodes {
		t := ep.State.TaskType
		if _, seen := byType[t]; !seen {
			order = append(order, t)
		}
		byType[t] = append(byType[t], ep)
	}
	groups := [][]Episode{}
	for _, t := range order {
		groups = append(groups, chunkGroups(byType[t], groupSize)...)
	}
	return groups
}

func chunkGroups(episodes []Episode, groupSize int) [][]Episode {
	if groupSize < 2 {
		return nil
	}
	groups := [][]Episode{}
	for start := 0; start < len(episodes); start += groupSize {
		end := min(start+groupSize, len(episodes))
		if end-start < 2 {
			continue
		}
		groups = append(groups, slices.Clone(episodes[start:end]))
	}
	return groups
}
