package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxMessageSize caps a single framed message at 16 MB. A compressed
// sequence snapshot is the largest payload that travels in one frame.
const maxMessageSize = 16 << 20

// writeMessage frames data as a big-endian u32 length followed by the
// payload and writes it in one call, so a frame is never split by a
// concurrent writer.
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds the %d byte limit", len(data), maxMessageSize)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame:\n%w", err)
	}

	return nil
}

// readMessage reads one length-prefixed frame. A length above the limit
// fails before any payload is allocated, so a malicious prefix cannot
// force a huge allocation.
func readMessage(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read frame length:\n%w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxMessageSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds the %d byte limit", size, maxMessageSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload:\n%w", err)
	}

	return payload, nil
}
