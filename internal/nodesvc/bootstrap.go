package nodesvc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/tinycoin/tinycoin/internal/ledger"
	"github.com/tinycoin/tinycoin/internal/wire"
)

const (
	// maxBootstrapFanout bounds how many peers transitive DiscoverNodes
	// replies are allowed to add, so a malicious or over-connected seed
	// can't make startup dial an unbounded peer set.
	maxBootstrapFanout = 32

	dialTimeout = 5 * time.Second
)

// Bootstrap discovers peers starting from seedAddrs, then syncs from
// whichever known peer reports the largest positive height difference.
// Discovered connections remain registered in the peer set for ongoing
// gossip after Bootstrap returns.
func (s *Service) Bootstrap(ctx context.Context, seedAddrs []string) error {
	s.discoverPeers(ctx, seedAddrs)

	if len(s.peers.Addresses()) == 0 {
		s.logger.Info("no peers discovered, starting as a seed node")
		return nil
	}

	sourceAddr, diff := s.pickSyncSource(ctx)
	if diff <= 0 {
		s.logger.Info("local chain is already caught up", zap.Int32("diff", diff))
		return nil
	}

	return s.syncBlocks(ctx, sourceAddr, diff)
}

// discoverPeers dials every address in seedAddrs, asks each for its own
// peer list, and dials transitively discovered addresses up to
// maxBootstrapFanout, skipping addresses already registered.
func (s *Service) discoverPeers(ctx context.Context, seedAddrs []string) {
	visited := make(map[string]bool)
	queue := append([]string{}, seedAddrs...)

	for len(queue) > 0 && len(s.peers.Addresses()) < maxBootstrapFanout {
		addr := queue[0]
		queue = queue[1:]

		if visited[addr] {
			continue
		}
		visited[addr] = true

		if _, ok := s.peers.Get(addr); ok {
			continue
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			s.logger.Warn("failed to dial bootstrap peer", zap.String("addr", addr), zap.Error(err))
			continue
		}
		s.peers.Put(addr, conn)

		reply, err := sendAndRecv(ctx, conn, &wire.DiscoverNodes{})
		if err != nil {
			s.logger.Warn("DiscoverNodes failed", zap.String("addr", addr), zap.Error(err))
			continue
		}

		list, ok := reply.(*wire.NodeList)
		if !ok {
			continue
		}
		queue = append(queue, list.Addresses...)
	}

	s.refreshPeerGauge()
}

// pickSyncSource asks every registered peer how far ahead of the local
// height they are and returns the address of whichever peer reports the
// largest positive difference, and that difference.
func (s *Service) pickSyncSource(ctx context.Context) (string, int32) {
	var localHeight uint64
	s.withReadLock(func(c *ledger.ChainState) { localHeight = c.BlockHeight() })

	var bestAddr string
	var bestDiff int32

	for _, addr := range s.peers.Addresses() {
		p, ok := s.peers.Get(addr)
		if !ok {
			continue
		}

		reply, err := sendAndRecv(ctx, p.conn, &wire.AskDifference{Height: uint32(localHeight)})
		if err != nil {
			s.logger.Warn("AskDifference failed", zap.String("addr", addr), zap.Error(err))
			continue
		}

		diff, ok := reply.(*wire.Difference)
		if !ok {
			continue
		}
		if diff.Delta > bestDiff {
			bestDiff = diff.Delta
			bestAddr = addr
		}
	}

	return bestAddr, bestDiff
}

// syncBlocks fetches blocks [localHeight, localHeight+diff) from the peer
// at addr, appending each via AddBlock, then rebuilds the UTXO set and
// retargets once the batch is in.
func (s *Service) syncBlocks(ctx context.Context, addr string, diff int32) error {
	p, ok := s.peers.Get(addr)
	if !ok {
		return fmt.Errorf("nodesvc: sync source %s is no longer connected", addr)
	}

	var start uint64
	s.withReadLock(func(c *ledger.ChainState) { start = c.BlockHeight() })

	for i := start; i < start+uint64(diff); i++ {
		reply, err := sendAndRecv(ctx, p.conn, &wire.FetchBlock{Height: i})
		if err != nil {
			return fmt.Errorf("nodesvc: fetch block %d from %s: %w", i, addr, err)
		}

		nb, ok := reply.(*wire.NewBlock)
		if !ok {
			return fmt.Errorf("nodesvc: unexpected reply fetching block %d from %s", i, addr)
		}

		var addErr error
		s.withWriteLock(func(c *ledger.ChainState) { addErr = c.AddBlock(nb.Block) })
		if addErr != nil {
			return fmt.Errorf("nodesvc: block %d from %s rejected: %w", i, addr, addErr)
		}
	}

	s.withWriteLock(func(c *ledger.ChainState) {
		c.RebuildUTXOs()
		c.TryAdjustTarget()
	})

	return nil
}

// sendAndRecv writes msg to conn and waits for the next framed reply,
// bounded by ctx.
func sendAndRecv(ctx context.Context, conn net.Conn, msg wire.Message) (wire.Message, error) {
	if err := wire.SendContext(ctx, conn, msg); err != nil {
		return nil, err
	}
	return wire.RecvContext(ctx, conn)
}
