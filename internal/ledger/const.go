package ledger

import "time"

// Consensus constants (spec.md §4.2). These are the canonical values for
// this design; changing them changes consensus and must be coordinated
// across every node.
const (
	// InitialReward is the block reward before any halving, in whole
	// coins. It is multiplied by 10^8 to get satoshis.
	InitialReward uint64 = 50

	// HalvingInterval is the number of blocks between reward halvings.
	HalvingInterval uint64 = 210_000

	// DifficultyUpdateInterval is the number of blocks between target
	// retargets.
	DifficultyUpdateInterval uint64 = 50

	// IdealBlockTime is the target seconds-per-block the retarget
	// algorithm aims for.
	IdealBlockTime int64 = 10

	// BlockTransactionCap is the maximum number of (non-coinbase)
	// transactions a node will include in a mined block template.
	BlockTransactionCap = 20

	// MaxMempoolTransactionAge is how long an admitted transaction may
	// sit in the mempool before CleanupMempool evicts it.
	MaxMempoolTransactionAge = 600 * time.Second

	// satoshisPerCoin converts whole-coin reward constants to satoshis.
	satoshisPerCoin uint64 = 100_000_000
)
