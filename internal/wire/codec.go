package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Each envelope is framed as a 4-byte big-endian payload length followed by
// the CBOR-encoded envelope. The cap keeps a misbehaving peer from making
// the reader allocate unbounded memory; chat messages and SDP blobs fit in
// a fraction of it.
const maxFrameLength = 1 << 20 // 1 MB

const frameHeaderLength = 4

// WriteEnvelope frames and writes one envelope. Callers are responsible for
// serializing concurrent writers on the same connection.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	body, err := cbor.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if len(body) > maxFrameLength {
		return fmt.Errorf("envelope too large: %d bytes", len(body))
	}

	var header [frameHeaderLength]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadEnvelope reads and decodes one framed envelope. It returns io.EOF
// unchanged on a clean close before the header so callers can distinguish
// shutdown from protocol errors.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, fmt.Errorf("zero-length frame")
	}
	if length > maxFrameLength {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", length, maxFrameLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	env := &Envelope{}
	if err := cbor.Unmarshal(body, env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("envelope without kind")
	}
	return env, nil
}
