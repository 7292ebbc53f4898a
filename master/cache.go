package master

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/vfslab/volfs/addr"
)

// The live-node cache guarantees one in-memory instance per node
// address per mount. It is sharded; a lookup only synchronises with
// other lookups of the same shard.
const ncShards uint64 = 43

type cacheShard struct {
	mu    *sync.Mutex
	nodes map[addr.Address]interface{}
}

type nodeCache struct {
	shards []*cacheShard
}

func mkNodeCache() *nodeCache {
	var shards []*cacheShard
	for i := uint64(0); i < ncShards; i++ {
		shards = append(shards, &cacheShard{
			mu:    new(sync.Mutex),
			nodes: make(map[addr.Address]interface{}),
		})
	}
	return &nodeCache{shards: shards}
}

func (c *nodeCache) shard(a addr.Address) *cacheShard {
	var key [8]byte
	v := uint64(a)
	for i := 0; i < 8; i++ {
		key[i] = byte(v >> (8 * i))
	}
	return c.shards[xxhash.Sum64(key[:])%ncShards]
}

// getOrLoad returns the cached instance for a, loading it exactly once.
// Concurrent loads of the same address are first-wins: the loser sees
// the winner's instance.
func (c *nodeCache) getOrLoad(a addr.Address, load func() (interface{}, error)) (interface{}, error) {
	s := c.shard(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[a]; ok {
		return n, nil
	}
	n, err := load()
	if err != nil {
		return nil, err
	}
	s.nodes[a] = n
	return n, nil
}

func (c *nodeCache) insert(a addr.Address, n interface{}) {
	s := c.shard(a)
	s.mu.Lock()
	s.nodes[a] = n
	s.mu.Unlock()
}

func (c *nodeCache) remove(a addr.Address) {
	s := c.shard(a)
	s.mu.Lock()
	delete(s.nodes, a)
	s.mu.Unlock()
}

func (c *nodeCache) snapshot() []interface{} {
	var out []interface{}
	for _, s := range c.shards {
		s.mu.Lock()
		for _, n := range s.nodes {
			out = append(out, n)
		}
		s.mu.Unlock()
	}
	return out
}
