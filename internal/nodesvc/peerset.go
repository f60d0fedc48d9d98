package nodesvc

import (
	"hash/fnv"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

const peerShardCount = 16

// peer is one outbound connection tracked in the registry, together with
// a rate limiter (50 events per second, burst 100) and the mutex
// serializing writes to its stream (two handler goroutines must never
// interleave partial writes to the same peer). The limiter is created with
// each peer but no code path consults it, so no traffic is rate limited.
type peer struct {
	conn    net.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

type peerShard struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

// peerSet is a sharded concurrent registry of address -> peer, following
// the teacher's lazily-populated, mutex-guarded map of per-peer state
// (internal/p2p/pubsub.go's peerLimiters), generalized into fixed shards so
// insertion and lookup for different peers don't serialize on one lock.
type peerSet struct {
	shards [peerShardCount]*peerShard
}

func newPeerSet() *peerSet {
	ps := &peerSet{}
	for i := range ps.shards {
		ps.shards[i] = &peerShard{peers: make(map[string]*peer)}
	}
	return ps
}

func (ps *peerSet) shardFor(addr string) *peerShard {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return ps.shards[h.Sum32()%peerShardCount]
}

// Put registers conn under addr, replacing and closing any prior
// connection at the same address.
func (ps *peerSet) Put(addr string, conn net.Conn) {
	shard := ps.shardFor(addr)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if old, ok := shard.peers[addr]; ok {
		old.conn.Close()
	}
	shard.peers[addr] = &peer{conn: conn, limiter: rate.NewLimiter(50, 100)}
}

// Remove drops addr from the registry, if present.
func (ps *peerSet) Remove(addr string) {
	shard := ps.shardFor(addr)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.peers, addr)
}

// Get returns the peer registered at addr, if any.
func (ps *peerSet) Get(addr string) (*peer, bool) {
	shard := ps.shardFor(addr)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	p, ok := shard.peers[addr]
	return p, ok
}

// Addresses returns a snapshot of every registered peer address.
func (ps *peerSet) Addresses() []string {
	var addrs []string
	for _, shard := range ps.shards {
		shard.mu.RLock()
		for addr := range shard.peers {
			addrs = append(addrs, addr)
		}
		shard.mu.RUnlock()
	}
	return addrs
}

// Each calls fn with every currently registered (address, peer) pair, used
// for broadcast. fn must not call back into the peerSet.
func (ps *peerSet) Each(fn func(addr string, p *peer)) {
	for _, shard := range ps.shards {
		shard.mu.RLock()
		snapshot := make(map[string]*peer, len(shard.peers))
		for addr, p := range shard.peers {
			snapshot[addr] = p
		}
		shard.mu.RUnlock()

		for addr, p := range snapshot {
			fn(addr, p)
		}
	}
}
