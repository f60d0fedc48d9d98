package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/tinycoin/tinycoin/internal/keys"
	"github.com/tinycoin/tinycoin/internal/primitives"
)

func mustKey(t *testing.T) keys.PrivateKey {
	t.Helper()
	priv, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return priv
}

// coinbaseAt builds a valid coinbase transaction paying reward+fees to pub.
func coinbaseAt(reward, fees uint64, pub keys.PublicKey) Transaction {
	return Transaction{
		Outputs: []TransactionOutput{NewTransactionOutput(reward+fees, pub)},
	}
}

// mineHeader bumps nonce until the header's hash meets target. With the
// MinTarget (2^240) used throughout these tests, about one hash in 65,536
// qualifies, so this takes tens of thousands of iterations on average.
func mineHeader(h BlockHeader) BlockHeader {
	for !h.MeetsTarget() {
		h.Nonce++
	}
	return h
}

func genesisBlock(pub keys.PublicKey) Block {
	coinbase := coinbaseAt(InitialReward*satoshisPerCoin, 0, pub)
	header := BlockHeader{
		Timestamp:     1,
		PrevBlockHash: primitives.ZeroHash,
		Target:        primitives.MinTarget,
	}
	txs := []Transaction{coinbase}
	header.MerkleRoot = primitives.CalculateMerkleRoot(hashesOf(txs))
	header = mineHeader(header)
	return Block{Header: header, Transactions: txs}
}

func hashesOf(txs []Transaction) []primitives.Hash {
	hashes := make([]primitives.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	return hashes
}

func nextBlock(c *ChainState, pub keys.PublicKey, timestamp int64, extra []Transaction) Block {
	fees, err := (&ChainState{blocks: c.blocks, utxos: c.utxos, target: c.target}).CalculateMinerFees(Block{
		Transactions: append([]Transaction{{}}, extra...),
	})
	if err != nil {
		fees = 0
	}
	coinbase := coinbaseAt(c.CalculateBlockReward(), fees, pub)
	txs := append([]Transaction{coinbase}, extra...)

	header := BlockHeader{
		Timestamp:     timestamp,
		PrevBlockHash: c.blocks[len(c.blocks)-1].Hash(),
		Target:        c.target,
		MerkleRoot:    primitives.CalculateMerkleRoot(hashesOf(txs)),
	}
	header = mineHeader(header)
	return Block{Header: header, Transactions: txs}
}

func TestAddBlockGenesis(t *testing.T) {
	priv := mustKey(t)
	chain := NewChainState()
	genesis := genesisBlock(priv.PublicKey())

	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}
	if chain.BlockHeight() != 1 {
		t.Fatalf("BlockHeight = %d, want 1", chain.BlockHeight())
	}

	chain.RebuildUTXOs()
	coinbaseHash := genesis.Coinbase().Hash()
	output, ok := chain.UTXOSpendable(coinbaseHash)
	if !ok {
		t.Fatalf("genesis coinbase output missing from the UTXO set")
	}
	if output.Value != InitialReward*satoshisPerCoin {
		t.Fatalf("genesis coinbase value = %d, want %d", output.Value, InitialReward*satoshisPerCoin)
	}
}

func TestAddBlockRejectsNonZeroGenesisPrevHash(t *testing.T) {
	priv := mustKey(t)
	chain := NewChainState()
	genesis := genesisBlock(priv.PublicKey())
	genesis.Header.PrevBlockHash = primitives.MustHashOf("not zero")

	err := chain.AddBlock(genesis)
	if !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("AddBlock = %v, want ErrInvalidBlock", err)
	}
}

func TestAddBlockRejectsWrongPrevHash(t *testing.T) {
	priv := mustKey(t)
	chain := NewChainState()
	genesis := genesisBlock(priv.PublicKey())
	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}
	chain.RebuildUTXOs()

	second := nextBlock(chain, priv.PublicKey(), 2, nil)
	second.Header.PrevBlockHash = primitives.MustHashOf("wrong parent")
	second.Header = mineHeader(second.Header)

	err := chain.AddBlock(second)
	if !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("AddBlock = %v, want ErrInvalidBlock", err)
	}
}

func TestAddBlockRejectsNonIncreasingTimestamp(t *testing.T) {
	priv := mustKey(t)
	chain := NewChainState()
	genesis := genesisBlock(priv.PublicKey())
	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}
	chain.RebuildUTXOs()

	second := nextBlock(chain, priv.PublicKey(), 1, nil)

	err := chain.AddBlock(second)
	if !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("AddBlock = %v, want ErrInvalidBlock", err)
	}
}

func TestCalculateBlockRewardHalves(t *testing.T) {
	chain := NewChainState()
	if got := chain.CalculateBlockReward(); got != InitialReward*satoshisPerCoin {
		t.Fatalf("reward at height 0 = %d, want %d", got, InitialReward*satoshisPerCoin)
	}

	chain.blocks = make([]Block, HalvingInterval)
	if got := chain.CalculateBlockReward(); got != InitialReward*satoshisPerCoin/2 {
		t.Fatalf("reward at height %d = %d, want %d", HalvingInterval, got, InitialReward*satoshisPerCoin/2)
	}

	chain.blocks = make([]Block, HalvingInterval*2)
	if got := chain.CalculateBlockReward(); got != InitialReward*satoshisPerCoin/4 {
		t.Fatalf("reward at height %d = %d, want %d", HalvingInterval*2, got, InitialReward*satoshisPerCoin/4)
	}
}

// TestAddBlockEnforcesRewardAtHalvingBoundary exercises S4 end to end
// through AddBlock itself, not just CalculateBlockReward in isolation: a
// block at the halving boundary whose coinbase still pays the pre-halving
// reward is rejected, and one paying the correctly halved reward is
// accepted.
func TestAddBlockEnforcesRewardAtHalvingBoundary(t *testing.T) {
	priv := mustKey(t)
	chain := NewChainState()
	genesis := genesisBlock(priv.PublicKey())
	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}
	chain.RebuildUTXOs()

	tip := chain.blocks[0]
	chain.blocks = make([]Block, HalvingInterval)
	chain.blocks[HalvingInterval-1] = tip
	chain.RebuildUTXOs()

	if got := chain.CalculateBlockReward(); got != InitialReward*satoshisPerCoin/2 {
		t.Fatalf("reward at height %d = %d, want %d", HalvingInterval, got, InitialReward*satoshisPerCoin/2)
	}

	overpaid := Block{
		Header: BlockHeader{
			Timestamp:     tip.Header.Timestamp + 1,
			PrevBlockHash: tip.Hash(),
			Target:        chain.target,
		},
		Transactions: []Transaction{coinbaseAt(InitialReward*satoshisPerCoin, 0, priv.PublicKey())},
	}
	overpaid.Header.MerkleRoot = primitives.CalculateMerkleRoot(hashesOf(overpaid.Transactions))
	overpaid.Header = mineHeader(overpaid.Header)

	if err := chain.AddBlock(overpaid); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("AddBlock(pre-halving reward at boundary) = %v, want ErrInvalidTransaction", err)
	}

	correct := nextBlock(chain, priv.PublicKey(), tip.Header.Timestamp+1, nil)
	if err := chain.AddBlock(correct); err != nil {
		t.Fatalf("AddBlock(correctly halved reward): %v", err)
	}
	if chain.BlockHeight() != HalvingInterval+1 {
		t.Fatalf("BlockHeight = %d, want %d", chain.BlockHeight(), HalvingInterval+1)
	}
}

func TestAddToMempoolEvictsConflictingSpend(t *testing.T) {
	miner := mustKey(t)
	alice := mustKey(t)
	bob := mustKey(t)

	chain := NewChainState()
	genesis := genesisBlock(miner.PublicKey())
	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}
	chain.RebuildUTXOs()

	spent := genesis.Coinbase().Outputs[0]
	spentHash := genesis.Coinbase().Hash()

	txToAlice := Transaction{
		Inputs: []TransactionInput{{
			PrevTxOutputHash: spentHash,
			Signature:        miner.Sign(spentHash),
		}},
		Outputs: []TransactionOutput{NewTransactionOutput(spent.Value, alice.PublicKey())},
	}
	if err := chain.AddToMempool(txToAlice); err != nil {
		t.Fatalf("AddToMempool(txToAlice): %v", err)
	}
	if len(chain.Mempool()) != 1 {
		t.Fatalf("mempool size = %d, want 1", len(chain.Mempool()))
	}

	txToBob := Transaction{
		Inputs: []TransactionInput{{
			PrevTxOutputHash: spentHash,
			Signature:        miner.Sign(spentHash),
		}},
		Outputs: []TransactionOutput{NewTransactionOutput(spent.Value, bob.PublicKey())},
	}
	if err := chain.AddToMempool(txToBob); err != nil {
		t.Fatalf("AddToMempool(txToBob): %v", err)
	}

	pool := chain.Mempool()
	if len(pool) != 1 {
		t.Fatalf("mempool size after conflict = %d, want 1", len(pool))
	}
	if pool[0].Hash() != txToBob.Hash() {
		t.Fatalf("mempool retained the wrong transaction after conflict")
	}
	if _, ok := chain.UTXOSpendable(spentHash); ok {
		t.Fatalf("spent output should still be marked after the conflict, not freed")
	}
}

func TestAddToMempoolRejectsUnknownInput(t *testing.T) {
	miner := mustKey(t)
	chain := NewChainState()
	genesis := genesisBlock(miner.PublicKey())
	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}
	chain.RebuildUTXOs()

	ghost := primitives.MustHashOf("no such output")
	tx := Transaction{
		Inputs: []TransactionInput{{
			PrevTxOutputHash: ghost,
			Signature:        miner.Sign(ghost),
		}},
		Outputs: []TransactionOutput{NewTransactionOutput(1, miner.PublicKey())},
	}

	err := chain.AddToMempool(tx)
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("AddToMempool = %v, want ErrInvalidTransaction", err)
	}
}

func TestCleanupMempoolEvictsStaleEntries(t *testing.T) {
	miner := mustKey(t)
	chain := NewChainState()
	genesis := genesisBlock(miner.PublicKey())
	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}
	chain.RebuildUTXOs()

	spentHash := genesis.Coinbase().Hash()
	spent := genesis.Coinbase().Outputs[0]
	tx := Transaction{
		Inputs: []TransactionInput{{
			PrevTxOutputHash: spentHash,
			Signature:        miner.Sign(spentHash),
		}},
		Outputs: []TransactionOutput{NewTransactionOutput(spent.Value, miner.PublicKey())},
	}

	base := time.Unix(1_700_000_000, 0)
	nowFunc = func() time.Time { return base }
	defer func() { nowFunc = time.Now }()

	if err := chain.AddToMempool(tx); err != nil {
		t.Fatalf("AddToMempool: %v", err)
	}

	nowFunc = func() time.Time { return base.Add(MaxMempoolTransactionAge + time.Second) }
	chain.CleanupMempool()

	if len(chain.Mempool()) != 0 {
		t.Fatalf("mempool size after cleanup = %d, want 0", len(chain.Mempool()))
	}
	if _, ok := chain.UTXOSpendable(spentHash); !ok {
		t.Fatalf("spent output not released back to the UTXO set after cleanup")
	}
}

func TestTryAdjustTargetClampsToQuarter(t *testing.T) {
	miner := mustKey(t)
	chain := NewChainState()
	genesis := genesisBlock(miner.PublicKey())
	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}

	before := chain.target
	chain.blocks = make([]Block, DifficultyUpdateInterval)
	chain.blocks[0] = genesis
	for i := range chain.blocks {
		// One second apart, far faster than the 10-second ideal, so the
		// computed ratio undershoots 1/4 and must clamp to the floor.
		chain.blocks[i].Header.Timestamp = int64(i)
	}
	chain.target = before

	chain.TryAdjustTarget()

	floor := before.Div(4)
	if chain.target.Cmp(floor) != 0 {
		t.Fatalf("target = %s, want floor %s (clamped to quarter on a fast interval)", chain.target, floor)
	}
}

func TestRebuildUTXOsMatchesIncrementalSpends(t *testing.T) {
	miner := mustKey(t)
	alice := mustKey(t)

	chain := NewChainState()
	genesis := genesisBlock(miner.PublicKey())
	if err := chain.AddBlock(genesis); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}
	chain.RebuildUTXOs()

	spentHash := genesis.Coinbase().Hash()
	spent := genesis.Coinbase().Outputs[0]
	spend := Transaction{
		Inputs: []TransactionInput{{
			PrevTxOutputHash: spentHash,
			Signature:        miner.Sign(spentHash),
		}},
		Outputs: []TransactionOutput{NewTransactionOutput(spent.Value, alice.PublicKey())},
	}

	second := nextBlock(chain, miner.PublicKey(), 2, []Transaction{spend})
	if err := chain.AddBlock(second); err != nil {
		t.Fatalf("AddBlock(second): %v", err)
	}
	chain.RebuildUTXOs()

	if _, ok := chain.UTXOSpendable(spentHash); ok {
		t.Fatalf("genesis coinbase output still spendable after being spent")
	}
	if _, ok := chain.UTXOSpendable(spend.Hash()); !ok {
		t.Fatalf("spend's own output missing from the rebuilt UTXO set")
	}
}
