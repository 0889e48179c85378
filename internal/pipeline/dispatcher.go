package pipeline

import (
	"strconv"

	"github.com/serialx/hashring"

	"firestige.xyz/chronicle/internal/flow"
)

// dispatcher maps connections onto shards with a consistent hash ring. Both
// directions of a connection hash the same canonical key.
type dispatcher struct {
	ring  *hashring.HashRing
	nodes map[string]int
}

func newDispatcher(shards, replicas int) *dispatcher {
	if replicas <= 0 {
		replicas = 1
	}
	d := &dispatcher{nodes: make(map[string]int, shards)}
	weights := make(map[string]int, shards)
	for i := 0; i < shards; i++ {
		node := "shard-" + strconv.Itoa(i)
		d.nodes[node] = i
		weights[node] = replicas
	}
	d.ring = hashring.NewWithWeights(weights)
	return d
}

// shard returns the index of the shard owning the connection of key.
func (d *dispatcher) shard(key flow.Key) int {
	c := key.Canonical()
	node, ok := d.ring.GetNode(string(c[:]))
	if !ok {
		return 0
	}
	return d.nodes[node]
}
