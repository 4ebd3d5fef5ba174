package protocol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Flag identifies the operation a frame carries. The numeric values are fixed
// by the relay protocol and must never be renumbered.
type Flag byte

const (
	FlagNew    Flag = 0x01 // relay requests a new channel
	FlagData   Flag = 0x02 // application bytes for an existing channel
	FlagClose  Flag = 0x04 // either side is done with a channel
	FlagPing   Flag = 0x08 // connection-level keepalive
	FlagPong   Flag = 0x09 // keepalive reply
	FlagPause  Flag = 0x16 // stop reading from the local socket for a channel
	FlagResume Flag = 0x32 // resume reading
)

// Valid reports whether f is one of the recognized flag values.
func (f Flag) Valid() bool {
	switch f {
	case FlagNew, FlagData, FlagClose, FlagPing, FlagPong, FlagPause, FlagResume:
		return true
	default:
		return false
	}
}

// String returns a string representation of the flag.
func (f Flag) String() string {
	switch f {
	case FlagNew:
		return "NEW"
	case FlagData:
		return "DATA"
	case FlagClose:
		return "CLOSE"
	case FlagPing:
		return "PING"
	case FlagPong:
		return "PONG"
	case FlagPause:
		return "PAUSE"
	case FlagResume:
		return "RESUME"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(f))
	}
}

// Wire format (big-endian): [16 bytes channel id][1 byte flag][4 bytes payload
// length][1 reserved byte, sent as 0], followed by exactly that many payload
// bytes.
const (
	HeaderSize = 22

	// MaxPayloadSize bounds the declared payload length so a buggy or
	// malicious peer cannot force unbounded allocation.
	MaxPayloadSize = 1 << 20
)

// ControlID is the reserved all-zero channel id used for connection-level
// frames such as PING and PONG.
var ControlID = uuid.Nil

var (
	ErrShortHeader      = errors.New("protocol: buffer shorter than frame header")
	ErrTruncatedPayload = errors.New("protocol: declared payload exceeds buffer")
	ErrPayloadTooLarge  = errors.New("protocol: payload exceeds maximum size")
)

// UnknownFlagError is returned by Decode when the flag byte is not a
// recognized value. The frame is otherwise fully parsed so callers can skip
// it and keep the connection.
type UnknownFlagError struct {
	Flag byte
}

func (e *UnknownFlagError) Error() string {
	return fmt.Sprintf("protocol: unknown flag 0x%02x", e.Flag)
}

// IsMalformed reports whether err indicates a frame that cannot be safely
// skipped, i.e. the connection framing itself is broken.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrShortHeader) || errors.Is(err, ErrTruncatedPayload)
}

// Frame is one header-plus-payload unit on the wire.
type Frame struct {
	ChannelID uuid.UUID
	Flag      Flag
	Payload   []byte
}
