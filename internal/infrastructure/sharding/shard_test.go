package sharding

import (
	"fmt"
	"testing"
)

func TestShardFor(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("conversation-%d", i)
		shard := ShardFor(id, 300)
		if shard < 0 || shard >= 300 {
			t.Fatalf("ShardFor(%q) = %d, out of range", id, shard)
		}
		if again := ShardFor(id, 300); again != shard {
			t.Fatalf("ShardFor(%q) = %d then %d", id, shard, again)
		}
	}
	if got := ShardFor("anything", 1); got != 0 {
		t.Errorf("ShardFor with one shard = %d, want 0", got)
	}
}

func TestAssignment_RunnerLeavingOnlyMovesItsShards(t *testing.T) {
	a := Runner{ID: "a", Address: "http://a"}
	b := Runner{ID: "b", Address: "http://b"}
	c := Runner{ID: "c", Address: "http://c"}

	full := NewAssignment([]Runner{a, b, c})
	reduced := NewAssignment([]Runner{a, c})

	counts := map[string]int{}
	for shard := 0; shard < 300; shard++ {
		before, ok := full.Owner(shard)
		if !ok {
			t.Fatalf("shard %d has no owner", shard)
		}
		counts[before.ID]++

		after, _ := reduced.Owner(shard)
		if before.ID != "b" && after.ID != before.ID {
			t.Errorf("shard %d moved from %s to %s although %s is still live", shard, before.ID, after.ID, before.ID)
		}
		if after.ID == "b" {
			t.Errorf("shard %d assigned to departed runner", shard)
		}
	}
	for _, id := range []string{"a", "b", "c"} {
		if counts[id] == 0 {
			t.Errorf("runner %s owns no shards", id)
		}
	}
}

func TestAssignment_Empty(t *testing.T) {
	if _, ok := NewAssignment(nil).Owner(1); ok {
		t.Error("Owner() on empty assignment reported an owner")
	}
	var nilAssignment *Assignment
	if _, ok := nilAssignment.Owner(1); ok || nilAssignment.Size() != 0 {
		t.Error("nil assignment must be empty")
	}
}

func TestAssignment_IgnoresDuplicateRunners(t *testing.T) {
	a := Runner{ID: "a", Address: "http://a"}
	if got := NewAssignment([]Runner{a, a}).Size(); got != 1 {
		t.Errorf("Size() = %d, want 1", got)
	}
}
