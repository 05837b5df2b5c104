package vt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowMaskBodyRoundTrip(t *testing.T) {
	b := WindowMaskBody{BackgroundColour: 5, SoftKeyMaskID: 1000, ObjectRefs: []uint16{10, 20, 30}}
	got, err := DecodeWindowMaskBody(EncodeWindowMaskBody(b))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestKeyGroupBodyRoundTrip(t *testing.T) {
	b := KeyGroupBody{KeyIDs: []uint16{1, 2, 3}}
	got, err := DecodeKeyGroupBody(EncodeKeyGroupBody(b))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestKeyBodyRoundTrip(t *testing.T) {
	b := KeyBody{BackgroundColour: 3, KeyCode: 42}
	got, err := DecodeKeyBody(EncodeKeyBody(b))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestAlarmMaskBodyRoundTrip(t *testing.T) {
	b := AlarmMaskBody{
		WindowMaskBody: WindowMaskBody{BackgroundColour: 1, SoftKeyMaskID: 500, ObjectRefs: []uint16{7}},
		Priority:       AlarmPriorityWarning,
		AcknowledgeOn:  true,
	}
	got, err := DecodeAlarmMaskBody(EncodeAlarmMaskBody(b))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestAlarmPriorityOrdering(t *testing.T) {
	assert.Less(t, int(AlarmPriorityCritical), int(AlarmPriorityWarning))
	assert.Less(t, int(AlarmPriorityWarning), int(AlarmPriorityInformation))
}

func TestMacroCommandsFixedLengthRoundTrip(t *testing.T) {
	cmds := []MacroCommand{
		{Type: 0xA0, Params: []byte{0x01, 0x02}},
		{Type: 0xA9, Params: []byte{0x01, 0x02, 0x03}},
	}
	got, err := DecodeMacroCommands(EncodeMacroCommands(cmds))
	require.NoError(t, err)
	assert.Equal(t, cmds, got)
}

func TestMacroCommandsChangeStringValueRoundTrip(t *testing.T) {
	cmds := []MacroCommand{
		{Type: ChangeStringValue, Params: append([]byte{0x10, 0x00}, []byte("hello")...)},
		{Type: 0xA1, Params: []byte{0x05, 0x00}},
	}
	got, err := DecodeMacroCommands(EncodeMacroCommands(cmds))
	require.NoError(t, err)
	assert.Equal(t, cmds, got)
}

func TestDecodeMacroCommandsUnknownType(t *testing.T) {
	_, err := DecodeMacroCommands([]byte{0xFE, 0x00})
	assert.Error(t, err)
}

func TestDecodeMacroCommandsTruncated(t *testing.T) {
	_, err := DecodeMacroCommands([]byte{0xA0, 0x01})
	assert.Error(t, err)
}
