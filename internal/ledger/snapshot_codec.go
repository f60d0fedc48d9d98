package ledger

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/tinycoin/tinycoin/internal/primitives"
)

// persistedChain is the on-disk shape of a ChainState: blocks, the derived
// UTXO set, and the current target. The mempool is never persisted —
// a restarted node rebuilds it from peer gossip.
type persistedChain struct {
	UTXOs  map[primitives.Hash]utxoEntry `cbor:"1,keyasint"`
	Target primitives.U256               `cbor:"2,keyasint"`
	Blocks []Block                       `cbor:"3,keyasint"`
}

// MarshalCBOR encodes the chain's persisted fields (blocks, UTXOs,
// target). The mempool is intentionally omitted.
func (c *ChainState) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(persistedChain{
		UTXOs:  c.utxos,
		Target: c.target,
		Blocks: c.blocks,
	})
}

// UnmarshalCBOR decodes a persisted chain, replacing c's blocks, UTXOs,
// and target. The mempool is reset to empty.
func (c *ChainState) UnmarshalCBOR(data []byte) error {
	var snap persistedChain
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return err
	}

	c.utxos = snap.UTXOs
	if c.utxos == nil {
		c.utxos = make(map[primitives.Hash]utxoEntry)
	}
	c.target = snap.Target
	c.blocks = snap.Blocks
	c.mempool = nil
	return nil
}
