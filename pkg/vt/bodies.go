package vt

import (
	"encoding/binary"
	"fmt"
)

// AlarmPriority is the 3-level alarm urgency, lowest
// value most urgent (Critical < Warning < Information).
type AlarmPriority uint8

const (
	AlarmPriorityCritical    AlarmPriority = 0
	AlarmPriorityWarning     AlarmPriority = 1
	AlarmPriorityInformation AlarmPriority = 2
)

// WindowMaskBody is the structured body of a Data-Mask/Alarm-Mask
// object: background colour plus the ids of soft-key and object
// references it displays.
type WindowMaskBody struct {
	BackgroundColour uint8
	SoftKeyMaskID    uint16
	ObjectRefs       []uint16
}

func EncodeWindowMaskBody(b WindowMaskBody) []byte {
	out := make([]byte, 0, 3+2*len(b.ObjectRefs))
	out = append(out, b.BackgroundColour)
	var skm [2]byte
	binary.LittleEndian.PutUint16(skm[:], b.SoftKeyMaskID)
	out = append(out, skm[:]...)
	for _, id := range b.ObjectRefs {
		var idb [2]byte
		binary.LittleEndian.PutUint16(idb[:], id)
		out = append(out, idb[:]...)
	}
	return out
}

func DecodeWindowMaskBody(buf []byte) (WindowMaskBody, error) {
	if len(buf) < 3 || (len(buf)-3)%2 != 0 {
		return WindowMaskBody{}, fmt.Errorf("vt: malformed window mask body")
	}
	b := WindowMaskBody{
		BackgroundColour: buf[0],
		SoftKeyMaskID:    binary.LittleEndian.Uint16(buf[1:3]),
	}
	for i := 3; i < len(buf); i += 2 {
		b.ObjectRefs = append(b.ObjectRefs, binary.LittleEndian.Uint16(buf[i:i+2]))
	}
	return b, nil
}

// KeyGroupBody is a Soft-Key-Mask's body: the ids of the Key objects
// it contains.
type KeyGroupBody struct {
	KeyIDs []uint16
}

func EncodeKeyGroupBody(b KeyGroupBody) []byte {
	out := make([]byte, 0, 2*len(b.KeyIDs))
	for _, id := range b.KeyIDs {
		var idb [2]byte
		binary.LittleEndian.PutUint16(idb[:], id)
		out = append(out, idb[:]...)
	}
	return out
}

func DecodeKeyGroupBody(buf []byte) (KeyGroupBody, error) {
	if len(buf)%2 != 0 {
		return KeyGroupBody{}, fmt.Errorf("vt: malformed key group body")
	}
	var b KeyGroupBody
	for i := 0; i < len(buf); i += 2 {
		b.KeyIDs = append(b.KeyIDs, binary.LittleEndian.Uint16(buf[i:i+2]))
	}
	return b, nil
}

// KeyBody is a Key object's body: its key code and background colour.
type KeyBody struct {
	BackgroundColour uint8
	KeyCode          uint8
}

func EncodeKeyBody(b KeyBody) []byte {
	return []byte{b.BackgroundColour, b.KeyCode}
}

func DecodeKeyBody(buf []byte) (KeyBody, error) {
	if len(buf) != 2 {
		return KeyBody{}, fmt.Errorf("vt: malformed key body")
	}
	return KeyBody{BackgroundColour: buf[0], KeyCode: buf[1]}, nil
}

// AlarmMaskBody is an Alarm-Mask's body: the same window fields as
// WindowMaskBody plus the 3-level priority and an acknowledge flag.
type AlarmMaskBody struct {
	WindowMaskBody
	Priority      AlarmPriority
	AcknowledgeOn bool
}

func EncodeAlarmMaskBody(b AlarmMaskBody) []byte {
	ack := byte(0)
	if b.AcknowledgeOn {
		ack = 1
	}
	return append([]byte{byte(b.Priority), ack}, EncodeWindowMaskBody(b.WindowMaskBody)...)
}

func DecodeAlarmMaskBody(buf []byte) (AlarmMaskBody, error) {
	if len(buf) < 2 {
		return AlarmMaskBody{}, fmt.Errorf("vt: malformed alarm mask body")
	}
	window, err := DecodeWindowMaskBody(buf[2:])
	if err != nil {
		return AlarmMaskBody{}, err
	}
	return AlarmMaskBody{
		WindowMaskBody: window,
		Priority:       AlarmPriority(buf[0]),
		AcknowledgeOn:  buf[1] != 0,
	}, nil
}

// MacroCommandType is one VT macro command's 1-byte opcode.
type MacroCommandType uint8

const ChangeStringValue MacroCommandType = 0xB3

// macroCommandLengths gives the fixed parameter-block length (not
// counting the 1-byte command type) for every macro command this
// station interprets; DecodeMacroCommands rejects any command absent
// from this table (other than Change String Value) as unknown.
var macroCommandLengths = map[MacroCommandType]int{
	0xA0: 2, // Hide Object
	0xA1: 2, // Show Object
	0xA2: 2, // Enable Object
	0xA3: 2, // Disable Object
	0xA4: 4, // Select Input Object
	0xA5: 3, // Control Audio Signal
	0xA6: 3, // Set Audio Volume
	0xA7: 4, // Change Child Location
	0xA8: 2, // Change Size
	0xA9: 3, // Change Background Colour
	0xAA: 3, // Change Numeric Value
	0xAB: 6, // Change End Point
	0xAC: 4, // Change Font Attributes
	0xAD: 6, // Change Line Attributes
	0xAE: 6, // Change Fill Attributes
	0xAF: 5, // Change Active Mask
	0xB0: 4, // Change Soft Key Mask
	0xB1: 4, // Change Attribute
	0xB2: 5, // Change Priority
	// 0xB3 Change String Value is variable-length; see below.
	0xB4: 5, // Change Child Position
}

// MacroCommand is one decoded command inside a Macro object's body.
type MacroCommand struct {
	Type   MacroCommandType
	Params []byte
}

// EncodeMacroCommands concatenates a command list into one Macro body.
// Change-String-Value (0xB3) commands carry a 2-byte length prefix at
// offset +2 ahead of the variable-length string.
func EncodeMacroCommands(cmds []MacroCommand) []byte {
	var out []byte
	for _, c := range cmds {
		out = append(out, byte(c.Type))
		if c.Type == ChangeStringValue {
			var lenBytes [2]byte
			// offset +2 within the command's own parameter block: the
			// 2-byte object id comes first, then the length prefix.
			binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(c.Params)-2))
			out = append(out, c.Params[:2]...)
			out = append(out, lenBytes[:]...)
			out = append(out, c.Params[2:]...)
			continue
		}
		out = append(out, c.Params...)
	}
	return out
}

// DecodeMacroCommands splits a Macro body back into its commands,
// using macroCommandLengths for every fixed-length command and the
// embedded length prefix for Change-String-Value.
func DecodeMacroCommands(buf []byte) ([]MacroCommand, error) {
	var cmds []MacroCommand
	for len(buf) > 0 {
		typ := MacroCommandType(buf[0])
		buf = buf[1:]

		if typ == ChangeStringValue {
			if len(buf) < 4 {
				return nil, fmt.Errorf("vt: truncated change-string-value command")
			}
			strLen := int(binary.LittleEndian.Uint16(buf[2:4]))
			total := 4 + strLen
			if total > len(buf) {
				return nil, fmt.Errorf("vt: change-string-value length overruns macro body")
			}
			params := append([]byte{}, buf[:2]...)
			params = append(params, buf[4:total]...)
			cmds = append(cmds, MacroCommand{Type: typ, Params: params})
			buf = buf[total:]
			continue
		}

		n, ok := macroCommandLengths[typ]
		if !ok {
			return nil, fmt.Errorf("vt: unknown macro command type 0x%02X", byte(typ))
		}
		if n > len(buf) {
			return nil, fmt.Errorf("vt: truncated macro command 0x%02X", byte(typ))
		}
		cmds = append(cmds, MacroCommand{Type: typ, Params: append([]byte{}, buf[:n]...)})
		buf = buf[n:]
	}
	return cmds, nil
}
