package primitives

import "testing"

func leaf(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestCalculateMerkleRootEmpty(t *testing.T) {
	if got := CalculateMerkleRoot(nil); got != ZeroHash {
		t.Fatalf("empty merkle root = %v, want zero hash", got)
	}
}

func TestCalculateMerkleRootSingle(t *testing.T) {
	l := leaf(1)
	if got := CalculateMerkleRoot([]Hash{l}); got != l {
		t.Fatalf("single-leaf root = %v, want %v", got, l)
	}
}

func TestCalculateMerkleRootOddDuplicatesLast(t *testing.T) {
	three := []Hash{leaf(1), leaf(2), leaf(3)}
	four := []Hash{leaf(1), leaf(2), leaf(3), leaf(3)}

	if CalculateMerkleRoot(three) != CalculateMerkleRoot(four) {
		t.Fatalf("odd-length root should equal duplicating the last leaf")
	}
}

func TestCalculateMerkleRootDeterministicAndOrderSensitive(t *testing.T) {
	a := CalculateMerkleRoot([]Hash{leaf(1), leaf(2)})
	b := CalculateMerkleRoot([]Hash{leaf(1), leaf(2)})
	if a != b {
		t.Fatalf("merkle root not deterministic")
	}

	c := CalculateMerkleRoot([]Hash{leaf(2), leaf(1)})
	if a == c {
		t.Fatalf("merkle root should be order-sensitive")
	}
}
