// Package wire defines the voxlink wire protocol: JSON control messages sent
// by the client, JSON server messages parsed from inbound text frames, and
// the one-byte type prefix used on binary audio frames.
//
// Text frames carry JSON with a "type" discriminant field. Binary frames carry
// audio with a single prefix byte: 0x01 = microphone audio (client→server),
// 0x02 = synthesized speech (server→client). Parsing in this package never
// fails a connection: unrecognised discriminants decode to an explicit
// Unknown variant and unrecognised frame prefixes are reported as droppable.
package wire

// FrameType identifies the payload class of a binary frame.
type FrameType byte

const (
	// FrameMic prefixes outbound microphone PCM audio.
	FrameMic FrameType = 0x01

	// FrameTTS prefixes inbound synthesized speech audio.
	FrameTTS FrameType = 0x02
)

// EncodeFrame prepends the type byte to payload, producing a complete binary
// frame ready for transmission.
func EncodeFrame(t FrameType, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(t)
	copy(out[1:], payload)
	return out
}

// DecodeFrame splits a binary frame into its type byte and payload.
// It returns ok=false for frames that must be silently dropped: empty frames
// and frames with an unrecognised type byte (forward compatibility).
func DecodeFrame(frame []byte) (t FrameType, payload []byte, ok bool) {
	if len(frame) < 1 {
		return 0, nil, false
	}
	t = FrameType(frame[0])
	switch t {
	case FrameMic, FrameTTS:
		return t, frame[1:], true
	}
	return 0, nil, false
}
