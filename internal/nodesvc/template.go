package nodesvc

import (
	"time"

	"github.com/tinycoin/tinycoin/internal/keys"
	"github.com/tinycoin/tinycoin/internal/ledger"
	"github.com/tinycoin/tinycoin/internal/primitives"
)

// buildTemplate assembles an unmined block paying reward+fees to miner: up
// to BlockTransactionCap mempool transactions in their current (lowest-
// fee-first) order, a coinbase covering their fees plus the block subsidy,
// and a header ready for a miner to search for a nonce against.
func (s *Service) buildTemplate(miner keys.PublicKey) ledger.Block {
	var block ledger.Block

	s.withReadLock(func(c *ledger.ChainState) {
		pending := c.Mempool()
		if len(pending) > ledger.BlockTransactionCap {
			pending = pending[:ledger.BlockTransactionCap]
		}

		candidate := ledger.Block{Transactions: append([]ledger.Transaction{{}}, pending...)}
		fees, err := c.CalculateMinerFees(candidate)
		if err != nil {
			fees = 0
		}
		reward := c.CalculateBlockReward()

		coinbase := ledger.Transaction{
			Outputs: []ledger.TransactionOutput{ledger.NewTransactionOutput(reward+fees, miner)},
		}

		txs := append([]ledger.Transaction{coinbase}, pending...)

		prevHash := primitives.ZeroHash
		blocks := c.Blocks()
		if len(blocks) > 0 {
			prevHash = blocks[len(blocks)-1].Hash()
		}

		header := ledger.BlockHeader{
			Timestamp:     time.Now().Unix(),
			Nonce:         0,
			PrevBlockHash: prevHash,
			Target:        c.Target(),
		}
		header.MerkleRoot = primitives.CalculateMerkleRoot(hashesOf(txs))

		block = ledger.Block{Header: header, Transactions: txs}
	})

	return block
}

func hashesOf(txs []ledger.Transaction) []primitives.Hash {
	hashes := make([]primitives.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	return hashes
}
