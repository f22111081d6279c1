package op

import (
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"
)

// Wire frame: one magic byte, one version byte, then a snappy-compressed
// msgpack encoding of the Operation. The header lets a node drop frames
// from incompatible peers without attempting to decompress garbage.
const (
	frameMagic   = 0xD5
	frameVersion = 1
)

// ErrMalformedFrame is returned (wrapped) when bytes from the transport
// cannot be decoded into an Operation. Callers drop the frame and keep
// running; a malformed peer message must never crash the inbound path.
var ErrMalformedFrame = errors.New("malformed operation frame")

// Encode serializes an Operation for broadcast.
func Encode(o Operation) ([]byte, error) {
	body, err := msgpack.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}
	compressed := snappy.Encode(nil, body)
	frame := make([]byte, 0, len(compressed)+2)
	frame = append(frame, frameMagic, frameVersion)
	frame = append(frame, compressed...)
	return frame, nil
}

// Decode parses bytes received from the transport back into an Operation.
// All failure paths wrap ErrMalformedFrame.
func Decode(data []byte) (Operation, error) {
	if len(data) < 2 {
		return Operation{}, fmt.Errorf("%w: frame too short (%d bytes)", ErrMalformedFrame, len(data))
	}
	if data[0] != frameMagic {
		return Operation{}, fmt.Errorf("%w: bad magic 0x%02x", ErrMalformedFrame, data[0])
	}
	if data[1] != frameVersion {
		return Operation{}, fmt.Errorf("%w: unsupported frame version %d", ErrMalformedFrame, data[1])
	}
	body, err := snappy.Decode(nil, data[2:])
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	var o Operation
	if err := msgpack.Unmarshal(body, &o); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if o.Table == "" || o.NodeID == "" {
		return Operation{}, fmt.Errorf("%w: missing table or node id", ErrMalformedFrame)
	}
	if o.Kind < KindInsert || o.Kind > KindDelete {
		return Operation{}, fmt.Errorf("%w: bad write kind %d", ErrMalformedFrame, o.Kind)
	}
	return o, nil
}
