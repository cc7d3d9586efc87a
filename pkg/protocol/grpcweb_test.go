package protocol_test

import (
	"testing"

	"github.com/campusbot/attendance-broker/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte("hello upstream")
	encoded := protocol.EncodeFrame(payload, false)

	frames, err := protocol.DecodeFrames(encoded)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Trailer)
	assert.Equal(t, payload, frames[0].Payload)
}

func TestDecodeFramesMultipleConcatenated(t *testing.T) {
	data := protocol.EncodeFrame([]byte("data"), false)
	data = append(data, protocol.EncodeFrame([]byte("grpc-status:0"), true)...)

	frames, err := protocol.DecodeFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.False(t, frames[0].Trailer)
	assert.Equal(t, []byte("data"), frames[0].Payload)
	assert.True(t, frames[1].Trailer)
	assert.Equal(t, []byte("grpc-status:0"), frames[1].Payload)
}

func TestDecodeFramesTruncatedHeader(t *testing.T) {
	_, err := protocol.DecodeFrames([]byte{0x00, 0x00})
	require.Error(t, err)
}

func TestDecodeFramesTruncatedPayload(t *testing.T) {
	full := protocol.EncodeFrame([]byte("0123456789"), false)
	_, err := protocol.DecodeFrames(full[:len(full)-3])
	require.Error(t, err)
}

func TestEncodeDecodeFramesTextRoundTrip(t *testing.T) {
	dataFrame := protocol.EncodeFrame([]byte("payload-bytes"), false)
	trailerFrame := protocol.EncodeFrame([]byte("grpc-status:0"), true)

	encoded := protocol.EncodeFramesText(dataFrame, trailerFrame)

	frames, err := protocol.DecodeFramesText(encoded)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("payload-bytes"), frames[0].Payload)
	assert.True(t, frames[1].Trailer)
}

func TestDecodeFramesTextInvalidBase64(t *testing.T) {
	_, err := protocol.DecodeFramesText("not-valid-base64!!!")
	require.Error(t, err)
}
