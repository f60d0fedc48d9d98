package nodesvc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tinycoin/tinycoin/internal/ledger"
	"github.com/tinycoin/tinycoin/internal/metrics"
	"github.com/tinycoin/tinycoin/internal/snapshot"
)

const (
	mempoolCleanupInterval = 30 * time.Second
	snapshotSaveInterval   = 15 * time.Second
)

// RunCleanupLoop periodically evicts aged-out mempool transactions until
// ctx is canceled.
func (s *Service) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(mempoolCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.withWriteLock(func(c *ledger.ChainState) { c.CleanupMempool() })
			var size int
			s.withReadLock(func(c *ledger.ChainState) { size = len(c.Mempool()) })
			metrics.MempoolSize.Set(float64(size))
		}
	}
}

// RunSnapshotLoop periodically writes the ledger to s.snapshotPath until
// ctx is canceled. Each write is atomic (write-temp-then-rename).
func (s *Service) RunSnapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SaveSnapshot(); err != nil {
				s.logger.Error("snapshot save failed", zap.Error(err))
			}
		}
	}
}

// SaveSnapshot writes the current ledger state to s.snapshotPath under a
// read lock.
func (s *Service) SaveSnapshot() error {
	var err error
	s.withReadLock(func(c *ledger.ChainState) {
		err = snapshot.Save(s.snapshotPath, c)
	})
	return err
}
