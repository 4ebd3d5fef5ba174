package protocol

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRoundTrip_Property verifies decode(encode(id, flag, payload)) returns
// the original triple for every recognized flag and payload within bounds.
func TestRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var id uuid.UUID
		copy(id[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "id"))
		flag := rapid.SampledFrom([]Flag{
			FlagNew, FlagData, FlagClose, FlagPing, FlagPong, FlagPause, FlagResume,
		}).Draw(t, "flag")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "payload")

		encoded, err := Encode(id, flag, payload)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		frame, rest, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(rest) != 0 {
			t.Fatalf("unexpected remainder of %d bytes", len(rest))
		}
		if frame.ChannelID != id {
			t.Fatalf("channel id changed: %s != %s", frame.ChannelID, id)
		}
		if frame.Flag != flag {
			t.Fatalf("flag changed: %s != %s", frame.Flag, flag)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Fatalf("payload changed: %d bytes != %d bytes", len(frame.Payload), len(payload))
		}
	})
}

// TestDecodeShortBuffer_Property verifies that any buffer shorter than the
// header always fails with a malformed-frame error and never reads out of
// bounds.
func TestDecodeShortBuffer_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, HeaderSize-1).Draw(t, "data")

		_, _, err := Decode(data)
		if err == nil {
			t.Fatalf("decode of %d bytes succeeded", len(data))
		}
		if !IsMalformed(err) {
			t.Fatalf("expected malformed-frame error, got %v", err)
		}
	})
}

// TestDecodeArbitraryBytes_Property feeds random buffers to Decode and
// verifies it either fails cleanly or returns a payload consistent with the
// declared size. Decoding must never panic or return truncated data.
func TestDecodeArbitraryBytes_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "data")

		frame, rest, err := Decode(data)
		if err != nil {
			return
		}
		if len(frame.Payload)+len(rest)+HeaderSize != len(data) {
			t.Fatalf("frame accounting broken: %d payload + %d rest + header != %d input",
				len(frame.Payload), len(rest), len(data))
		}
		if !frame.Flag.Valid() {
			t.Fatalf("decode accepted invalid flag 0x%02x", byte(frame.Flag))
		}
	})
}

// TestEncodeAllocations verifies the pooled encode path stays allocation-flat
// on the hot DATA frame path.
func TestEncodeAllocations(t *testing.T) {
	id := uuid.New()
	payload := bytes.Repeat([]byte{0x42}, 4096)

	buf := GetBufferWithSize(HeaderSize + len(payload))
	defer PutBuffer(buf)

	allocs := testing.AllocsPerRun(100, func() {
		buf.Reset()
		_ = EncodeTo(buf, id, FlagData, payload)
	})
	require.LessOrEqual(t, allocs, 1.0, "EncodeTo into a warm buffer should not allocate")
}
