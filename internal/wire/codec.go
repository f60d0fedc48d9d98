package wire

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// maxMessageSize bounds the length prefix so a corrupt or hostile peer
// cannot make a node allocate an unbounded buffer.
const maxMessageSize = 32 * 1024 * 1024

// Send writes msg to w as an 8-byte big-endian length prefix followed by
// its CBOR envelope.
func Send(w io.Writer, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// Recv reads one length-prefixed CBOR envelope from r and decodes it.
func Recv(r io.Reader) (Message, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint64(lenBuf[:])
	if length > maxMessageSize {
		return nil, fmt.Errorf("wire: message of %d bytes exceeds the %d byte limit", length, maxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return Decode(data)
}

// SendContext is Send with cancellation: ctx canceling unblocks a send
// stuck on a slow peer by handing the write to a goroutine and racing it
// against ctx.Done.
func SendContext(ctx context.Context, w io.Writer, msg Message) error {
	done := make(chan error, 1)
	go func() { done <- Send(w, msg) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecvContext is Recv with cancellation, following the same race-against-
// ctx.Done pattern as SendContext.
func RecvContext(ctx context.Context, r io.Reader) (Message, error) {
	type result struct {
		msg Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := Recv(r)
		done <- result{msg, err}
	}()

	select {
	case res := <-done:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
