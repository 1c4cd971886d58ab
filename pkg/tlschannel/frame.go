package tlschannel

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types multiplexed inside one TlsChannel's byte stream. The
// heartbeat frames implement the liveness protocol of spec.md §4.1 as an
// application-layer mechanism, since Go's crypto/tls does not expose the
// RFC 6520 TLS heartbeat extension (see DESIGN.md).
const (
	frameTypeApp           byte = 1
	frameTypeHeartbeatReq  byte = 2
	frameTypeHeartbeatResp byte = 3
)

// writeFrame writes one length-prefixed frame: 1-byte type, 4-byte
// big-endian length, then payload.
func writeFrame(w io.Writer, frameType byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = frameType
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("tlschannel: write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("tlschannel: write frame payload: %w", err)
		}
	}
	return nil
}

// readFrame reads one length-prefixed frame written by writeFrame.
func readFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[1:])
	const maxFrameSize = 64 << 20
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("tlschannel: frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return header[0], payload, nil
}
