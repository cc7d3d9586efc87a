// Package protocol implements the gRPC-Web wire framing used to talk to
// Upstream's application-layer endpoints (§6): a 1-byte flag, a 4-byte
// big-endian length, and the payload, optionally wrapped end-to-end in
// base64 for the "-text" content type.
package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Frame flag values (gRPC-Web wire format).
const (
	FlagData    byte = 0x00
	FlagTrailer byte = 0x80
)

const frameHeaderSize = 5 // 1-byte flag + 4-byte big-endian length

// Frame is one decoded gRPC-Web frame.
type Frame struct {
	Trailer bool
	Payload []byte
}

// EncodeFrame wraps payload in a single gRPC-Web frame: flag + BE length + payload.
func EncodeFrame(payload []byte, trailer bool) []byte {
	out := make([]byte, frameHeaderSize+len(payload))
	if trailer {
		out[0] = FlagTrailer
	} else {
		out[0] = FlagData
	}
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// DecodeFrames parses a raw (non-base64) gRPC-Web byte stream into its
// constituent frames. Multiple frames may be concatenated back to back.
func DecodeFrames(data []byte) ([]Frame, error) {
	var frames []Frame
	for len(data) > 0 {
		if len(data) < frameHeaderSize {
			return nil, fmt.Errorf("protocol: truncated frame header (%d bytes left)", len(data))
		}
		flag := data[0]
		length := binary.BigEndian.Uint32(data[1:5])
		data = data[5:]
		if uint32(len(data)) < length {
			return nil, fmt.Errorf("protocol: truncated frame payload (want %d, have %d)", length, len(data))
		}
		frames = append(frames, Frame{
			Trailer: flag&FlagTrailer != 0,
			Payload: data[:length],
		})
		data = data[length:]
	}
	return frames, nil
}

// EncodeFramesText concatenates one or more already-built frames and
// base64-encodes the entire stream as a unit. This matches the original
// implementation's decode_grpc_response: for application/grpc-web-text the
// whole framed byte stream is base64-wrapped end to end, not each field or
// frame independently.
func EncodeFramesText(frames ...[]byte) string {
	var raw []byte
	for _, f := range frames {
		raw = append(raw, f...)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeFramesText reverses EncodeFramesText: base64-decode the whole
// response body, then split it into individual frames.
func DecodeFramesText(encoded string) ([]Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("protocol: base64 decode grpc-web-text body: %w", err)
	}
	return DecodeFrames(raw)
}
