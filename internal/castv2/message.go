// ABOUTME: Cast V2 wire framing
// ABOUTME: Length-prefixed protobuf CastMessage encoding with protowire
package castv2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxFrameSize bounds a single message; receivers never send more than 64KiB
const maxFrameSize = 64 * 1024

// CastMessage field numbers
const (
	fieldProtocolVersion protowire.Number = 1
	fieldSourceID        protowire.Number = 2
	fieldDestinationID   protowire.Number = 3
	fieldNamespace       protowire.Number = 4
	fieldPayloadType     protowire.Number = 5
	fieldPayloadUTF8     protowire.Number = 6
	fieldPayloadBinary   protowire.Number = 7
)

const (
	payloadString uint64 = 0
	payloadBinary uint64 = 1
)

var (
	ErrFrameTooLarge = errors.New("cast frame too large")
	ErrMalformed     = errors.New("malformed cast message")
)

// message is one CastMessage. Only the CASTV2_1_0 protocol version exists.
type message struct {
	SourceID      string
	DestinationID string
	Namespace     string
	PayloadUTF8   string
	PayloadBinary []byte
	Binary        bool
}

func (m *message) marshal() []byte {
	b := make([]byte, 0, 64+len(m.SourceID)+len(m.DestinationID)+len(m.Namespace)+len(m.PayloadUTF8)+len(m.PayloadBinary))

	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)
	b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, m.SourceID)
	b = protowire.AppendTag(b, fieldDestinationID, protowire.BytesType)
	b = protowire.AppendString(b, m.DestinationID)
	b = protowire.AppendTag(b, fieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, m.Namespace)

	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	if m.Binary {
		b = protowire.AppendVarint(b, payloadBinary)
		b = protowire.AppendTag(b, fieldPayloadBinary, protowire.BytesType)
		b = protowire.AppendBytes(b, m.PayloadBinary)
	} else {
		b = protowire.AppendVarint(b, payloadString)
		b = protowire.AppendTag(b, fieldPayloadUTF8, protowire.BytesType)
		b = protowire.AppendString(b, m.PayloadUTF8)
	}
	return b
}

func unmarshalMessage(b []byte) (*message, error) {
	m := &message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num == fieldPayloadType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
			}
			m.Binary = v == payloadBinary
			b = b[n:]
		case typ == protowire.BytesType && num >= fieldSourceID && num <= fieldPayloadBinary:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
			}
			switch num {
			case fieldSourceID:
				m.SourceID = string(v)
			case fieldDestinationID:
				m.DestinationID = string(v)
			case fieldNamespace:
				m.Namespace = string(v)
			case fieldPayloadUTF8:
				m.PayloadUTF8 = string(v)
			case fieldPayloadBinary:
				m.PayloadBinary = append([]byte(nil), v...)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

// writeFrame writes the 4-byte big-endian length followed by the message
func writeFrame(w io.Writer, m *message) error {
	body := m.marshal()
	if len(body) > maxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) (*message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return unmarshalMessage(body)
}
