// Package ledger implements the tinycoin chain state: blocks, transactions,
// the UTXO set, and the mempool. A ChainState is a plain value — it holds no
// lock of its own. Callers that share a ChainState across goroutines (the
// node service does) wrap it in a sync.RWMutex, the same division of
// responsibility the teacher draws between its sharechain store and the
// p2p layer that serializes access to it.
package ledger

import (
	"sort"
	"time"

	"github.com/tinycoin/tinycoin/internal/primitives"
)

// nowFunc is overridden in tests that need deterministic mempool aging.
var nowFunc = time.Now

// utxoEntry is one unspent output together with whether a mempool
// transaction currently claims it. A marked entry is not double-spendable
// by a second mempool transaction, but is still spendable by a block,
// since blocks are authoritative over the mempool.
type utxoEntry struct {
	Marked bool              `cbor:"1,keyasint"`
	Output TransactionOutput `cbor:"2,keyasint"`
}

// mempoolEntry is a transaction awaiting inclusion in a block, tagged with
// the time it was admitted so CleanupMempool can age it out.
type mempoolEntry struct {
	ArrivalTime time.Time
	Tx          Transaction
}

// ChainState is the full node-local view of the chain: the block list, the
// derived UTXO set, the current proof-of-work target, and the mempool.
type ChainState struct {
	blocks  []Block
	utxos   map[primitives.Hash]utxoEntry
	target  primitives.U256
	mempool []mempoolEntry
}

// NewChainState returns an empty chain with the easiest possible target,
// ready to accept a genesis block.
func NewChainState() *ChainState {
	return &ChainState{
		utxos:  make(map[primitives.Hash]utxoEntry),
		target: primitives.MinTarget,
	}
}

// Blocks returns the accepted blocks in chain order. The caller must not
// mutate the returned slice.
func (c *ChainState) Blocks() []Block {
	return c.blocks
}

// BlockHeight returns the number of accepted blocks.
func (c *ChainState) BlockHeight() uint64 {
	return uint64(len(c.blocks))
}

// Target returns the proof-of-work target the next block must meet.
func (c *ChainState) Target() primitives.U256 {
	return c.target
}

// Mempool returns the pending transactions, ordered ascending by miner
// fee (the order AddToMempool maintains). A block template takes a
// prefix of this in its current order, lowest-fee-first.
func (c *ChainState) Mempool() []Transaction {
	txs := make([]Transaction, len(c.mempool))
	for i, e := range c.mempool {
		txs[i] = e.Tx
	}
	return txs
}

// ForEachUTXO calls fn once per entry in the UTXO set, in unspecified
// order.
func (c *ChainState) ForEachUTXO(fn func(hash primitives.Hash, output TransactionOutput, marked bool)) {
	for hash, entry := range c.utxos {
		fn(hash, entry.Output, entry.Marked)
	}
}

// UTXOSpendable reports whether hash names an output that exists and is
// not currently claimed by a mempool transaction.
func (c *ChainState) UTXOSpendable(hash primitives.Hash) (TransactionOutput, bool) {
	entry, ok := c.utxos[hash]
	if !ok || entry.Marked {
		return TransactionOutput{}, false
	}
	return entry.Output, true
}

// RebuildUTXOs recomputes the UTXO set from scratch by replaying every
// block's transactions in order. Mempool marks are not restored; callers
// that need them preserved should re-admit the mempool afterward.
func (c *ChainState) RebuildUTXOs() {
	c.utxos = make(map[primitives.Hash]utxoEntry)
	for _, block := range c.blocks {
		for _, tx := range block.Transactions {
			for _, input := range tx.Inputs {
				delete(c.utxos, input.PrevTxOutputHash)
			}
			txHash := tx.Hash()
			for _, output := range tx.Outputs {
				c.utxos[txHash] = utxoEntry{Output: output}
			}
		}
	}
}

// AddBlock validates block against the current chain tip and, if it
// passes, appends it, prunes any mempool transactions it now contains, and
// retargets if this block completes a retarget interval. It does not
// update the UTXO set. In the node service, the SubmitTemplate handler
// calls RebuildUTXOs right after its AddBlock, the bootstrap sync calls it
// once after the whole fetched batch, and the gossiped NewBlock handler
// does not call it.
func (c *ChainState) AddBlock(block Block) error {
	if len(c.blocks) == 0 {
		if block.Header.PrevBlockHash != primitives.ZeroHash {
			return invalidBlock("genesis block must reference the zero hash")
		}
	} else {
		last := c.blocks[len(c.blocks)-1]

		if block.Header.PrevBlockHash != last.Hash() {
			return invalidBlock("previous block hash does not match the chain tip")
		}

		if !block.Header.MeetsTarget() {
			return invalidBlock("block hash does not meet its declared target")
		}

		if block.MerkleRoot() != block.Header.MerkleRoot {
			return invalidMerkleRoot("computed merkle root does not match the header")
		}

		if block.Header.Timestamp <= last.Header.Timestamp {
			return invalidBlock("block timestamp does not advance the chain")
		}

		if err := c.VerifyTransactions(block, c.BlockHeight()); err != nil {
			return err
		}
	}

	included := make(map[primitives.Hash]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		included[tx.Hash()] = struct{}{}
	}
	pruned := c.mempool[:0]
	for _, e := range c.mempool {
		if _, ok := included[e.Tx.Hash()]; !ok {
			pruned = append(pruned, e)
		}
	}
	c.mempool = pruned

	c.blocks = append(c.blocks, block)
	c.TryAdjustTarget()
	return nil
}

// TryAdjustTarget retargets difficulty every DifficultyUpdateInterval
// blocks, scaling the target by the ratio of actual to ideal elapsed time
// over the interval, clamped to a factor of 4 in either direction and
// never easier than MinTarget.
func (c *ChainState) TryAdjustTarget() {
	n := uint64(len(c.blocks))
	if n == 0 || n%DifficultyUpdateInterval != 0 {
		return
	}

	start := c.blocks[n-DifficultyUpdateInterval].Header.Timestamp
	end := c.blocks[n-1].Header.Timestamp
	elapsed := end - start
	ideal := IdealBlockTime * int64(DifficultyUpdateInterval)

	newTarget := c.target.MulDiv(elapsed, ideal)

	floor := c.target.Div(4)
	ceil := c.target.Mul(4)
	switch {
	case newTarget.Cmp(floor) < 0:
		newTarget = floor
	case newTarget.Cmp(ceil) > 0:
		newTarget = ceil
	}

	c.target = newTarget.Min(primitives.MinTarget)
}

// CalculateBlockReward returns the coinbase subsidy for the block about to
// be mined at the chain's current height, halving every HalvingInterval
// blocks.
func (c *ChainState) CalculateBlockReward() uint64 {
	halvings := c.BlockHeight() / HalvingInterval
	reward := InitialReward * satoshisPerCoin
	if halvings >= 64 {
		return 0
	}
	return reward >> halvings
}

// VerifyTransactions checks block's transactions against utxos as they
// stand at predictedBlockHeight: the coinbase must pay exactly the reward
// plus fees, and every other transaction's inputs must exist, be
// unclaimed elsewhere in the same block, carry a valid signature, and not
// spend more than they receive.
func (c *ChainState) VerifyTransactions(block Block, predictedBlockHeight uint64) error {
	if len(block.Transactions) == 0 {
		return invalidTransaction("block has no transactions")
	}

	if err := c.VerifyCoinbaseTransaction(block, predictedBlockHeight); err != nil {
		return err
	}

	spent := make(map[primitives.Hash]struct{})
	for _, tx := range block.Transactions[1:] {
		var inputValue, outputValue uint64

		for _, input := range tx.Inputs {
			prevOutput, ok := c.utxos[input.PrevTxOutputHash]
			if !ok {
				return invalidTransaction("input spends an unknown output")
			}
			if _, dup := spent[input.PrevTxOutputHash]; dup {
				return invalidTransaction("input double-spent within the same block")
			}
			if !input.Signature.Verify(input.PrevTxOutputHash, prevOutput.Output.Pubkey) {
				return invalidSignature("input signature does not verify against the referenced output")
			}

			inputValue += prevOutput.Output.Value
			spent[input.PrevTxOutputHash] = struct{}{}
		}

		for _, output := range tx.Outputs {
			outputValue += output.Value
		}

		if inputValue < outputValue {
			return invalidTransaction("transaction outputs exceed its inputs")
		}
	}

	return nil
}

// VerifyCoinbaseTransaction checks that block's first transaction is
// shaped like a coinbase (no inputs, at least one output) and pays exactly
// the block reward plus the fees of every other transaction in the block.
func (c *ChainState) VerifyCoinbaseTransaction(block Block, predictedBlockHeight uint64) error {
	coinbase := block.Coinbase()

	if len(coinbase.Inputs) != 0 {
		return invalidTransaction("coinbase transaction must not spend any input")
	}
	if len(coinbase.Outputs) == 0 {
		return invalidTransaction("coinbase transaction must have at least one output")
	}

	fees, err := c.CalculateMinerFees(block)
	if err != nil {
		return err
	}

	halvings := predictedBlockHeight / HalvingInterval
	var reward uint64
	if halvings < 64 {
		reward = (InitialReward * satoshisPerCoin) >> halvings
	}

	var coinbaseTotal uint64
	for _, output := range coinbase.Outputs {
		coinbaseTotal += output.Value
	}

	if coinbaseTotal != reward+fees {
		return invalidTransaction("coinbase output total does not equal reward plus fees")
	}
	return nil
}

// CalculateMinerFees sums the inputs and outputs of every non-coinbase
// transaction in block and returns the difference. It rejects the block
// outright rather than underflow if, across the block, referenced inputs
// are worth less than the outputs spending them — a case the per-transaction
// check in VerifyTransactions also catches, but CalculateMinerFees can run
// before that check (from VerifyCoinbaseTransaction) and must not panic.
func (c *ChainState) CalculateMinerFees(block Block) (uint64, error) {
	inputs := make(map[primitives.Hash]TransactionOutput)
	outputs := make(map[primitives.Hash]TransactionOutput)

	for _, tx := range block.Transactions[1:] {
		for _, input := range tx.Inputs {
			prevOutput, ok := c.utxos[input.PrevTxOutputHash]
			if !ok {
				return 0, invalidTransaction("input spends an unknown output")
			}
			if _, dup := inputs[input.PrevTxOutputHash]; dup {
				return 0, invalidTransaction("input double-spent within the same block")
			}
			inputs[input.PrevTxOutputHash] = prevOutput.Output
		}

		for _, output := range tx.Outputs {
			h := output.Hash()
			if _, dup := outputs[h]; dup {
				return 0, invalidTransaction("duplicate output within the same block")
			}
			outputs[h] = output
		}
	}

	var inputsValue, outputsValue uint64
	for _, o := range inputs {
		inputsValue += o.Value
	}
	for _, o := range outputs {
		outputsValue += o.Value
	}

	if outputsValue > inputsValue {
		return 0, invalidTransaction("block spends more than its inputs provide")
	}
	return inputsValue - outputsValue, nil
}

// AddToMempool admits tx if every input it spends exists, is not spent
// twice by tx itself, and — once any conflicting mempool transaction is
// evicted — the transaction does not spend more than it receives. A
// transaction that conflicts with one already in the mempool displaces it:
// the displaced transaction's own inputs are released back to the UTXO
// set. The mempool is kept sorted ascending by miner fee.
func (c *ChainState) AddToMempool(tx Transaction) error {
	knownInputs := make(map[primitives.Hash]struct{}, len(tx.Inputs))
	for _, input := range tx.Inputs {
		if _, ok := c.utxos[input.PrevTxOutputHash]; !ok {
			return invalidTransaction("input spends an unknown output")
		}
		if _, dup := knownInputs[input.PrevTxOutputHash]; dup {
			return invalidTransaction("input double-spent within the transaction")
		}
		knownInputs[input.PrevTxOutputHash] = struct{}{}
	}

	for _, input := range tx.Inputs {
		entry := c.utxos[input.PrevTxOutputHash]
		if !entry.Marked {
			continue
		}

		conflictIdx := -1
		for i, e := range c.mempool {
			for _, in := range e.Tx.Inputs {
				if in.PrevTxOutputHash == input.PrevTxOutputHash {
					conflictIdx = i
					break
				}
			}
			if conflictIdx >= 0 {
				break
			}
		}

		if conflictIdx >= 0 {
			for _, in := range c.mempool[conflictIdx].Tx.Inputs {
				c.unmark(in.PrevTxOutputHash)
			}
			c.mempool = append(c.mempool[:conflictIdx], c.mempool[conflictIdx+1:]...)
		} else {
			c.unmark(input.PrevTxOutputHash)
		}
	}

	var inputValue, outputValue uint64
	for _, input := range tx.Inputs {
		inputValue += c.utxos[input.PrevTxOutputHash].Output.Value
	}
	for _, output := range tx.Outputs {
		outputValue += output.Value
	}

	if inputValue < outputValue {
		return invalidTransaction("transaction outputs exceed its inputs")
	}

	for _, input := range tx.Inputs {
		c.mark(input.PrevTxOutputHash)
	}

	c.mempool = append(c.mempool, mempoolEntry{ArrivalTime: nowFunc(), Tx: tx})
	c.sortMempoolByFee()
	return nil
}

// CleanupMempool evicts every mempool transaction older than
// MaxMempoolTransactionAge, releasing the inputs it held back to the UTXO
// set.
func (c *ChainState) CleanupMempool() {
	now := nowFunc()
	kept := c.mempool[:0]

	for _, e := range c.mempool {
		if now.Sub(e.ArrivalTime) > MaxMempoolTransactionAge {
			for _, input := range e.Tx.Inputs {
				c.unmark(input.PrevTxOutputHash)
			}
			continue
		}
		kept = append(kept, e)
	}
	c.mempool = kept
}

func (c *ChainState) mark(hash primitives.Hash) {
	entry := c.utxos[hash]
	entry.Marked = true
	c.utxos[hash] = entry
}

func (c *ChainState) unmark(hash primitives.Hash) {
	entry, ok := c.utxos[hash]
	if !ok {
		return
	}
	entry.Marked = false
	c.utxos[hash] = entry
}

func (c *ChainState) feeOf(tx Transaction) uint64 {
	var inputValue, outputValue uint64
	for _, input := range tx.Inputs {
		inputValue += c.utxos[input.PrevTxOutputHash].Output.Value
	}
	for _, output := range tx.Outputs {
		outputValue += output.Value
	}
	if outputValue > inputValue {
		return 0
	}
	return inputValue - outputValue
}

// sortMempoolByFee keeps the mempool ascending by miner fee.
func (c *ChainState) sortMempoolByFee() {
	sort.SliceStable(c.mempool, func(i, j int) bool {
		return c.feeOf(c.mempool[i].Tx) < c.feeOf(c.mempool[j].Tx)
	})
}
