// Package wire implements the node-to-node protocol: a tagged message
// union exchanged over a length-prefixed CBOR stream.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tinycoin/tinycoin/internal/keys"
	"github.com/tinycoin/tinycoin/internal/ledger"
)

// Tag identifies which message variant an envelope carries.
type Tag uint8

const (
	TagFetchUTXOs Tag = iota + 1
	TagUTXOs
	TagSubmitTransaction
	TagNewTransaction
	TagFetchTemplate
	TagTemplate
	TagValidateTemplate
	TagTemplateValidity
	TagSubmitTemplate
	TagDiscoverNodes
	TagNodeList
	TagAskDifference
	TagDifference
	TagFetchBlock
	TagNewBlock
)

func (t Tag) String() string {
	switch t {
	case TagFetchUTXOs:
		return "FetchUTXOs"
	case TagUTXOs:
		return "UTXOs"
	case TagSubmitTransaction:
		return "SubmitTransaction"
	case TagNewTransaction:
		return "NewTransaction"
	case TagFetchTemplate:
		return "FetchTemplate"
	case TagTemplate:
		return "Template"
	case TagValidateTemplate:
		return "ValidateTemplate"
	case TagTemplateValidity:
		return "TemplateValidity"
	case TagSubmitTemplate:
		return "SubmitTemplate"
	case TagDiscoverNodes:
		return "DiscoverNodes"
	case TagNodeList:
		return "NodeList"
	case TagAskDifference:
		return "AskDifference"
	case TagDifference:
		return "Difference"
	case TagFetchBlock:
		return "FetchBlock"
	case TagNewBlock:
		return "NewBlock"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Message is any of the node protocol's variants. Concrete types below
// implement it; a Message decoded off the wire can be type-switched to
// recover the payload.
type Message interface {
	Tag() Tag
}

// UTXOEntry is one output paired with whether a mempool transaction has
// already claimed it, the shape FetchUTXOs responses carry per output.
type UTXOEntry struct {
	Output ledger.TransactionOutput `cbor:"1,keyasint"`
	Marked bool                     `cbor:"2,keyasint"`
}

// FetchUTXOs asks a peer for every output owned by a public key.
type FetchUTXOs struct {
	Owner keys.PublicKey `cbor:"1,keyasint"`
}

func (FetchUTXOs) Tag() Tag { return TagFetchUTXOs }

// UTXOs answers FetchUTXOs with the owner's outputs and spent-in-mempool
// status.
type UTXOs struct {
	Entries []UTXOEntry `cbor:"1,keyasint"`
}

func (UTXOs) Tag() Tag { return TagUTXOs }

// SubmitTransaction asks a peer to admit a transaction to its mempool and
// gossip it onward.
type SubmitTransaction struct {
	Tx ledger.Transaction `cbor:"1,keyasint"`
}

func (SubmitTransaction) Tag() Tag { return TagSubmitTransaction }

// NewTransaction is unsolicited mempool gossip from a peer.
type NewTransaction struct {
	Tx ledger.Transaction `cbor:"1,keyasint"`
}

func (NewTransaction) Tag() Tag { return TagNewTransaction }

// FetchTemplate asks a peer to build a mineable block template paying the
// coinbase to Miner.
type FetchTemplate struct {
	Miner keys.PublicKey `cbor:"1,keyasint"`
}

func (FetchTemplate) Tag() Tag { return TagFetchTemplate }

// Template answers FetchTemplate with an unmined block (PoW nonce not yet
// found).
type Template struct {
	Block ledger.Block `cbor:"1,keyasint"`
}

func (Template) Tag() Tag { return TagTemplate }

// ValidateTemplate asks a peer whether a block still builds on its current
// chain tip (or on the zero hash if its chain is empty). Nothing else about
// the block is checked, and it is not added to the chain.
type ValidateTemplate struct {
	Block ledger.Block `cbor:"1,keyasint"`
}

func (ValidateTemplate) Tag() Tag { return TagValidateTemplate }

// TemplateValidity answers ValidateTemplate.
type TemplateValidity struct {
	Valid bool `cbor:"1,keyasint"`
}

func (TemplateValidity) Tag() Tag { return TagTemplateValidity }

// SubmitTemplate announces a freshly mined block to a peer for inclusion.
type SubmitTemplate struct {
	Block ledger.Block `cbor:"1,keyasint"`
}

func (SubmitTemplate) Tag() Tag { return TagSubmitTemplate }

// DiscoverNodes asks a peer for its known-peer addresses. It carries no
// payload.
type DiscoverNodes struct{}

func (DiscoverNodes) Tag() Tag { return TagDiscoverNodes }

// NodeList answers DiscoverNodes with peer addresses as host:port strings.
type NodeList struct {
	Addresses []string `cbor:"1,keyasint"`
}

func (NodeList) Tag() Tag { return TagNodeList }

// AskDifference asks a peer how its chain height compares to ours.
type AskDifference struct {
	Height uint32 `cbor:"1,keyasint"`
}

func (AskDifference) Tag() Tag { return TagAskDifference }

// Difference answers AskDifference: positive means the peer is ahead by
// that many blocks, negative means we are ahead, zero means even.
type Difference struct {
	Delta int32 `cbor:"1,keyasint"`
}

func (Difference) Tag() Tag { return TagDifference }

// FetchBlock asks a peer for the block at a given height.
type FetchBlock struct {
	Height uint64 `cbor:"1,keyasint"`
}

func (FetchBlock) Tag() Tag { return TagFetchBlock }

// NewBlock announces a newly accepted block to a peer.
type NewBlock struct {
	Block ledger.Block `cbor:"1,keyasint"`
}

func (NewBlock) Tag() Tag { return TagNewBlock }

// envelope is the on-wire shape: a tag plus the CBOR encoding of the
// matching payload struct.
type envelope struct {
	Tag     Tag             `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint"`
}

// Encode renders msg as a tagged CBOR envelope.
func Encode(msg Message) ([]byte, error) {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s payload: %w", msg.Tag(), err)
	}
	return cbor.Marshal(envelope{Tag: msg.Tag(), Payload: payload})
}

// Decode parses a tagged CBOR envelope and returns the concrete Message it
// carries.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}

	var msg Message
	switch env.Tag {
	case TagFetchUTXOs:
		msg = &FetchUTXOs{}
	case TagUTXOs:
		msg = &UTXOs{}
	case TagSubmitTransaction:
		msg = &SubmitTransaction{}
	case TagNewTransaction:
		msg = &NewTransaction{}
	case TagFetchTemplate:
		msg = &FetchTemplate{}
	case TagTemplate:
		msg = &Template{}
	case TagValidateTemplate:
		msg = &ValidateTemplate{}
	case TagTemplateValidity:
		msg = &TemplateValidity{}
	case TagSubmitTemplate:
		msg = &SubmitTemplate{}
	case TagDiscoverNodes:
		msg = &DiscoverNodes{}
	case TagNodeList:
		msg = &NodeList{}
	case TagAskDifference:
		msg = &AskDifference{}
	case TagDifference:
		msg = &Difference{}
	case TagFetchBlock:
		msg = &FetchBlock{}
	case TagNewBlock:
		msg = &NewBlock{}
	default:
		return nil, fmt.Errorf("wire: unknown message tag %d", env.Tag)
	}

	if err := cbor.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("wire: unmarshal %s payload: %w", env.Tag, err)
	}
	return msg, nil
}
