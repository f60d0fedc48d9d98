package wire

import (
	"bytes"
	"testing"

	"github.com/tinycoin/tinycoin/internal/keys"
	"github.com/tinycoin/tinycoin/internal/ledger"
	"github.com/tinycoin/tinycoin/internal/primitives"
)

func testPublicKey(t *testing.T) keys.PublicKey {
	t.Helper()
	priv, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return priv.PublicKey()
}

func testBlock(t *testing.T) ledger.Block {
	t.Helper()
	coinbase := ledger.Transaction{
		Outputs: []ledger.TransactionOutput{ledger.NewTransactionOutput(5_000_000_000, testPublicKey(t))},
	}
	header := ledger.BlockHeader{
		Timestamp:     1,
		PrevBlockHash: primitives.ZeroHash,
		Target:        primitives.MinTarget,
	}
	header.MerkleRoot = primitives.CalculateMerkleRoot([]primitives.Hash{coinbase.Hash()})
	return ledger.Block{Header: header, Transactions: []ledger.Transaction{coinbase}}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pub := testPublicKey(t)
	block := testBlock(t)

	cases := []Message{
		&FetchUTXOs{Owner: pub},
		&UTXOs{Entries: []UTXOEntry{{Output: ledger.NewTransactionOutput(1, pub), Marked: true}}},
		&SubmitTransaction{Tx: block.Coinbase()},
		&NewTransaction{Tx: block.Coinbase()},
		&FetchTemplate{Miner: pub},
		&Template{Block: block},
		&ValidateTemplate{Block: block},
		&TemplateValidity{Valid: true},
		&SubmitTemplate{Block: block},
		&DiscoverNodes{},
		&NodeList{Addresses: []string{"10.0.0.1:9000", "10.0.0.2:9000"}},
		&AskDifference{Height: 42},
		&Difference{Delta: -3},
		&FetchBlock{Height: 7},
		&NewBlock{Block: block},
	}

	for _, msg := range cases {
		data, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%s): %v", msg.Tag(), err)
		}

		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", msg.Tag(), err)
		}
		if decoded.Tag() != msg.Tag() {
			t.Fatalf("Decode tag = %s, want %s", decoded.Tag(), msg.Tag())
		}
	}
}

// TestSignedTransactionSurvivesWireRoundTrip guards against Signature
// losing its CBOR hooks: without MarshalCBOR/UnmarshalCBOR on Signature,
// cbor's reflection-based encoder silently drops the unexported field,
// and the decoded input's signature verifies as invalid.
func TestSignedTransactionSurvivesWireRoundTrip(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	prevOutputHash := primitives.MustHashOf("spent output")

	tx := ledger.Transaction{
		Inputs: []ledger.TransactionInput{
			{PrevTxOutputHash: prevOutputHash, Signature: priv.Sign(prevOutputHash)},
		},
		Outputs: []ledger.TransactionOutput{ledger.NewTransactionOutput(1, testPublicKey(t))},
	}

	data, err := Encode(&SubmitTransaction{Tx: tx})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	st, ok := decoded.(*SubmitTransaction)
	if !ok {
		t.Fatalf("Decode returned %T, want *SubmitTransaction", decoded)
	}

	input := st.Tx.Inputs[0]
	if !input.Signature.Verify(input.PrevTxOutputHash, priv.PublicKey()) {
		t.Fatalf("signature failed to verify after a wire round trip")
	}
}

func TestSendRecvFraming(t *testing.T) {
	var buf bytes.Buffer

	msg := &FetchBlock{Height: 99}
	if err := Send(&buf, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	decoded, err := Recv(&buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}

	fb, ok := decoded.(*FetchBlock)
	if !ok {
		t.Fatalf("Recv returned %T, want *FetchBlock", decoded)
	}
	if fb.Height != 99 {
		t.Fatalf("Height = %d, want 99", fb.Height)
	}
}

func TestRecvRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff})

	if _, err := Recv(&buf); err == nil {
		t.Fatalf("Recv accepted a length prefix far beyond the message size limit")
	}
}
