package affinity

import (
	"fmt"
	"testing"

	"github.com/DeltaLaboratory/gridcache/internal/protocol"
)

func testNodes() []protocol.NodeInfo {
	return []protocol.NodeInfo{
		{ID: "node-1", Address: "127.0.0.1:8001"},
		{ID: "node-2", Address: "127.0.0.1:8002"},
		{ID: "node-3", Address: "127.0.0.1:8003"},
	}
}

func TestRingDeterministic(t *testing.T) {
	first := NewRing(testNodes())

	// Same node set in a different order must route identically.
	shuffled := []protocol.NodeInfo{
		{ID: "node-3", Address: "127.0.0.1:8003"},
		{ID: "node-1", Address: "127.0.0.1:8001"},
		{ID: "node-2", Address: "127.0.0.1:8002"},
	}
	second := NewRing(shuffled)

	cacheID := protocol.CacheID("orders")
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		a := Owner(first, cacheID, key)
		b := Owner(second, cacheID, key)
		if a == nil || b == nil {
			t.Fatalf("nil owner for key %q", key)
		}
		if a.ID() != b.ID() {
			t.Fatalf("key %q routed to %s and %s", key, a.ID(), b.ID())
		}
	}
}

func TestKeysSpreadAcrossNodes(t *testing.T) {
	ring := NewRing(testNodes())
	cacheID := protocol.CacheID("spread")

	owners := make(map[string]int)
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		owners[Owner(ring, cacheID, key).ID()]++
	}
	if len(owners) < 2 {
		t.Fatalf("expected keys on at least two nodes, got %v", owners)
	}
}

func TestCacheIDChangesRouting(t *testing.T) {
	ring := NewRing(testNodes())

	moved := 0
	a := protocol.CacheID("cache-a")
	b := protocol.CacheID("cache-b")
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		if Owner(ring, a, key).ID() != Owner(ring, b, key).ID() {
			moved++
		}
	}
	if moved == 0 {
		t.Fatal("cache id has no effect on partition placement")
	}
}
