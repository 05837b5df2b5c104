package frame_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isobusgo/isostack/pkg/frame"
)

func TestFromMessageDestinationSpecific(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	f, err := frame.FromMessage(6, 0xEA00, 0x20, 0x30, payload)
	require.NoError(t, err)

	assert.Equal(t, uint8(6), f.Priority())
	assert.False(t, f.IsBroadcast())
	assert.Equal(t, uint8(0x20), f.Source())
	assert.Equal(t, uint8(0x30), f.Destination())
	assert.Equal(t, uint32(0xEA00), f.PGN())
	assert.Equal(t, payload, f.Payload())
}

func TestFromMessageBroadcast(t *testing.T) {
	f, err := frame.FromMessage(3, 0xFECA, 0x01, frame.BroadcastAddress, []byte{0xAA})
	require.NoError(t, err)

	assert.True(t, f.IsBroadcast())
	assert.Equal(t, frame.BroadcastAddress, f.Destination())
	assert.Equal(t, uint32(0xFECA), f.PGN())
}

func TestFromMessageRejectsOversizePayload(t *testing.T) {
	_, err := frame.FromMessage(3, 0xFECA, 0x01, frame.BroadcastAddress, make([]byte, 9))
	require.ErrorIs(t, err, frame.ErrInvalidFrame)
}

func TestPGNDataPageBit(t *testing.T) {
	// PGN 0x1FF00 sets the data-page bit; round trip through a
	// broadcast frame (PDU-format 0xFF >= 240) must preserve it.
	f, err := frame.FromMessage(7, 0x1FF00, 0x10, frame.BroadcastAddress, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1FF00), f.PGN())
}
