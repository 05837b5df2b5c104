package frame

// Identifier pack/unpack per SAE J1939-21: a 29-bit CAN identifier
// carrying {priority:3, reserved EDP:1, data-page DP:1, PDU-format:8,
// PDU-specific:8, source:8}. A PGN is 18 effective bits (data-page +
// PDU-format + PDU-specific); when PDU-format < 240 the PDU-specific
// byte on the wire is the destination address, not part of the PGN.

const (
	priorityShift = 26
	dataPageShift = 24
	pduFormatShift = 16
	pduSpecificShift = 8

	priorityMask = 0x7
	pduFormatThreshold = 240
)

// FromMessage packs a Frame from a decoded (priority, PGN, source,
// destination, payload) tuple. Destination is ignored for broadcast
// PGNs (PDU-format >= 240); pass BroadcastAddress there by convention.
func FromMessage(priority uint8, pgn uint32, source, destination uint8, payload []byte) (Frame, error) {
	if len(payload) > 8 {
		return Frame{}, ErrInvalidFrame
	}
	pduFormat := uint8((pgn >> 8) & 0xFF)
	dataPage := uint8((pgn >> 16) & 0x1)

	var pduSpecific uint8
	if pduFormat < pduFormatThreshold {
		pduSpecific = destination
	} else {
		pduSpecific = uint8(pgn & 0xFF)
	}

	id := uint32(priority&priorityMask)<<priorityShift |
		uint32(dataPage&0x1)<<dataPageShift |
		uint32(pduFormat)<<pduFormatShift |
		uint32(pduSpecific)<<pduSpecificShift |
		uint32(source)

	f := Frame{ID: id & 0x1FFFFFFF, DLC: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

// Priority returns the 3-bit priority field.
func (f Frame) Priority() uint8 {
	return uint8((f.ID >> priorityShift) & priorityMask)
}

func (f Frame) dataPage() uint8 {
	return uint8((f.ID >> dataPageShift) & 0x1)
}

func (f Frame) pduFormat() uint8 {
	return uint8((f.ID >> pduFormatShift) & 0xFF)
}

func (f Frame) pduSpecific() uint8 {
	return uint8((f.ID >> pduSpecificShift) & 0xFF)
}

// Source returns the 8-bit source address.
func (f Frame) Source() uint8 {
	return uint8(f.ID & 0xFF)
}

// IsBroadcast reports whether this frame's PGN is broadcast (PDU-format
// >= 240), in which case there is no destination-specific addressing.
func (f Frame) IsBroadcast() bool {
	return f.pduFormat() >= pduFormatThreshold
}

// Destination returns the destination address, or BroadcastAddress if
// this frame's PGN is broadcast.
func (f Frame) Destination() uint8 {
	if f.IsBroadcast() {
		return BroadcastAddress
	}
	return f.pduSpecific()
}

// PGN returns the 18-effective-bit Parameter Group Number. For
// destination-specific frames the PDU-specific byte (the destination
// address) is not part of the PGN and is masked to zero.
func (f Frame) PGN() uint32 {
	pduFormat := f.pduFormat()
	pgn := uint32(f.dataPage())<<16 | uint32(pduFormat)<<8
	if pduFormat >= pduFormatThreshold {
		pgn |= uint32(f.pduSpecific())
	}
	return pgn
}
