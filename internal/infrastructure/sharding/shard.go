package sharding

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Runner is a process that can own shards.
type Runner struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// ShardFor maps an entity id onto one of count shards.
func ShardFor(entityID string, count int) int {
	if count <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(entityID) % uint64(count))
}

// Assignment maps shards onto live runners with rendezvous hashing, so a
// runner joining or leaving only moves the shards it gains or loses.
type Assignment struct {
	ring    *rendezvous.Rendezvous
	runners map[string]Runner
}

// NewAssignment builds the assignment for the given live runners.
func NewAssignment(runners []Runner) *Assignment {
	ids := make([]string, 0, len(runners))
	byID := make(map[string]Runner, len(runners))
	for _, r := range runners {
		if _, dup := byID[r.ID]; dup {
			continue
		}
		ids = append(ids, r.ID)
		byID[r.ID] = r
	}
	return &Assignment{
		ring:    rendezvous.New(ids, xxhash.Sum64String),
		runners: byID,
	}
}

// Owner returns the runner assigned to shard.
func (a *Assignment) Owner(shard int) (Runner, bool) {
	if a == nil || len(a.runners) == 0 {
		return Runner{}, false
	}
	r, ok := a.runners[a.ring.Lookup(strconv.Itoa(shard))]
	return r, ok
}

// Size is the number of live runners.
func (a *Assignment) Size() int {
	if a == nil {
		return 0
	}
	return len(a.runners)
}
