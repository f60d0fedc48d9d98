// Package snapshot persists and restores the full ledger state as a
// single CBOR value on disk.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/tinycoin/tinycoin/internal/ledger"
)

// ErrInvalidData is returned when a snapshot file exists but cannot be
// decoded.
var ErrInvalidData = errors.New("snapshot: invalid data")

// Load reads the chain state from path. A missing file is not an error:
// it returns a fresh, empty ChainState, matching a node's first run.
func Load(path string) (*ledger.ChainState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ledger.NewChainState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}

	chain := ledger.NewChainState()
	if err := cbor.Unmarshal(data, chain); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidData, path, err)
	}
	return chain, nil
}

// Save writes chain to path atomically: it encodes to a temp file in the
// same directory, then renames over the destination, so a crash mid-write
// never leaves a truncated snapshot in place.
func Save(path string, chain *ledger.ChainState) error {
	data, err := cbor.Marshal(chain)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: rename temp file into place: %w", err)
	}
	return nil
}
