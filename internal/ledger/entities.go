package ledger

import (
	"github.com/google/uuid"

	"github.com/tinycoin/tinycoin/internal/keys"
	"github.com/tinycoin/tinycoin/internal/primitives"
)

// TransactionOutput is a value-bearing output paying a public key.
// UniqueID guarantees that two outputs of identical value and recipient
// still hash differently, since the UTXO keyspace is otherwise keyed on
// content (see ChainState.utxos).
type TransactionOutput struct {
	Value    uint64         `cbor:"1,keyasint"`
	UniqueID uuid.UUID      `cbor:"2,keyasint"`
	Pubkey   keys.PublicKey `cbor:"3,keyasint"`
}

// Hash returns the content hash of the output.
func (o TransactionOutput) Hash() primitives.Hash {
	return primitives.MustHashOf(o)
}

// NewTransactionOutput builds an output with a fresh UUIDv4, as every
// coinbase and spend output must carry.
func NewTransactionOutput(value uint64, pubkey keys.PublicKey) TransactionOutput {
	return TransactionOutput{
		Value:    value,
		UniqueID: uuid.New(),
		Pubkey:   pubkey,
	}
}

// TransactionInput spends a previously produced output, identified by the
// hash of the transaction that produced it (see the UTXO keying note in
// DESIGN.md). The signature authorizes the spend over that raw hash.
type TransactionInput struct {
	PrevTxOutputHash primitives.Hash `cbor:"1,keyasint"`
	Signature        keys.Signature  `cbor:"2,keyasint"`
}

// Transaction moves value from referenced outputs to new ones. A
// coinbase transaction has no inputs.
type Transaction struct {
	Inputs  []TransactionInput  `cbor:"1,keyasint"`
	Outputs []TransactionOutput `cbor:"2,keyasint"`
}

// Hash returns the content hash of the transaction.
func (t Transaction) Hash() primitives.Hash {
	return primitives.MustHashOf(t)
}

// IsCoinbase reports whether t has the coinbase shape (no inputs, at
// least one output). It does not check position within a block.
func (t Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 0 && len(t.Outputs) > 0
}

// BlockHeader commits to the block's predecessor, its transactions, and
// the proof-of-work target it was mined against.
type BlockHeader struct {
	Timestamp     int64           `cbor:"1,keyasint"`
	Nonce         uint64          `cbor:"2,keyasint"`
	PrevBlockHash primitives.Hash `cbor:"3,keyasint"`
	MerkleRoot    primitives.Hash `cbor:"4,keyasint"`
	Target        primitives.U256 `cbor:"5,keyasint"`
}

// Hash returns the content hash of the header — the quantity proof of
// work is measured against.
func (h BlockHeader) Hash() primitives.Hash {
	return primitives.MustHashOf(h)
}

// MeetsTarget reports whether the header's hash satisfies its own target.
// An external miner drives BlockHeader.Nonce/Timestamp until this is true;
// mining the nonce search itself is out of scope here (spec.md §1).
func (h BlockHeader) MeetsTarget() bool {
	return h.Hash().MatchesTarget(h.Target.Int())
}

// Block bundles a header with the transactions it commits to.
// Transactions[0] must be the coinbase.
type Block struct {
	Header       BlockHeader   `cbor:"1,keyasint"`
	Transactions []Transaction `cbor:"2,keyasint"`
}

// Hash returns the content hash of the block's header.
func (b Block) Hash() primitives.Hash {
	return b.Header.Hash()
}

// Coinbase returns the block's coinbase transaction. Callers must first
// ensure Transactions is non-empty.
func (b Block) Coinbase() Transaction {
	return b.Transactions[0]
}

// MerkleRoot recomputes the Merkle root over the block's transactions.
func (b Block) MerkleRoot() primitives.Hash {
	hashes := make([]primitives.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	return primitives.CalculateMerkleRoot(hashes)
}
