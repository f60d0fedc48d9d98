// Package nodesvc implements the node's connection handling, bootstrap
// sync, and background maintenance around a shared ledger.ChainState.
package nodesvc

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tinycoin/tinycoin/internal/ledger"
)

// Service holds the one mutable piece of shared state a node has — the
// ledger — behind a reader-writer lock, alongside the peer registry and
// the logger every handler and background task shares.
type Service struct {
	mu    sync.RWMutex
	chain *ledger.ChainState

	peers        *peerSet
	logger       *zap.Logger
	snapshotPath string
}

// New constructs a Service around chain. The caller's listener loop hands
// each accepted connection to HandleConnection.
func New(chain *ledger.ChainState, snapshotPath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		chain:        chain,
		peers:        newPeerSet(),
		logger:       logger,
		snapshotPath: snapshotPath,
	}
}

// withReadLock runs fn with the ledger held for reading.
func (s *Service) withReadLock(fn func(*ledger.ChainState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.chain)
}

// withWriteLock runs fn with the ledger held for writing.
func (s *Service) withWriteLock(fn func(*ledger.ChainState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.chain)
}
