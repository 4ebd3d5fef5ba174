package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Encode produces a complete wire frame for the given channel id, flag and
// payload. It fails if the payload exceeds MaxPayloadSize.
func Encode(id uuid.UUID, flag Flag, payload []byte) ([]byte, error) {
	buf := GetBufferWithSize(HeaderSize + len(payload))
	defer PutBuffer(buf)

	if err := EncodeTo(buf, id, flag, payload); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// EncodeTo writes a wire frame into buf. It is the allocation-free variant of
// Encode for callers that own a pooled buffer.
func EncodeTo(buf *bytes.Buffer, id uuid.UUID, flag Flag, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	var header [HeaderSize]byte
	copy(header[:16], id[:])
	header[16] = byte(flag)
	binary.BigEndian.PutUint32(header[17:21], uint32(len(payload)))
	header[21] = 0 // reserved

	buf.Write(header[:])
	buf.Write(payload)
	return nil
}

// Decode parses one frame from data and returns it together with the bytes
// remaining after the frame.
//
// A buffer shorter than the header fails with ErrShortHeader; a declared
// payload length beyond the buffer fails with ErrTruncatedPayload; both mean
// the framing is broken (see IsMalformed). A declared length above
// MaxPayloadSize fails with ErrPayloadTooLarge and the returned frame carries
// the parsed channel id and flag so the caller can close that channel. An
// unrecognized flag fails with *UnknownFlagError but the frame and remainder
// are fully parsed so the caller can skip it.
func Decode(data []byte) (Frame, []byte, error) {
	if len(data) < HeaderSize {
		return Frame{}, nil, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(data))
	}

	var frame Frame
	copy(frame.ChannelID[:], data[:16])
	frame.Flag = Flag(data[16])
	size := binary.BigEndian.Uint32(data[17:21])
	// data[21] is reserved and ignored on receipt.

	if size > MaxPayloadSize {
		return frame, nil, fmt.Errorf("%w: declared %d bytes", ErrPayloadTooLarge, size)
	}
	if uint32(len(data)-HeaderSize) < size {
		return Frame{}, nil, fmt.Errorf("%w: declared %d, have %d",
			ErrTruncatedPayload, size, len(data)-HeaderSize)
	}

	frame.Payload = data[HeaderSize : HeaderSize+int(size)]
	rest := data[HeaderSize+int(size):]

	if !frame.Flag.Valid() {
		return frame, rest, &UnknownFlagError{Flag: byte(frame.Flag)}
	}
	return frame, rest, nil
}
