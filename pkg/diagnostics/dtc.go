// Package diagnostics implements the SAE J1939-73 / ISO 11783-12
// diagnostic message set: DM1/DM2/DM3/DM5/DM11/DM13/DM20/DM22/DM25,
// freeze-frame capture, and monitor performance ratios. State is a
// map of active DTCs, a map of previously-active DTCs, and a bounded
// FIFO of freeze frames per DTC, with set/clear entry points;
// generalized from CANopen's single EMCY history to J1939's
// active/previously-active DTC split plus per-DTC freeze frames.
package diagnostics

// DTC identifies one diagnostic trouble code. Equality is over
// (SPN, FMI); OccurrenceCount and ConversionMethod are
// mutable state attached to that identity.
type DTC struct {
	SPN              uint32 // 19 bits
	FMI              uint8  // 5 bits
	OccurrenceCount  uint8  // 7 bits, saturates at 126
	ConversionMethod uint8  // 1 bit
}

type dtcKey uint32

func keyOf(spn uint32, fmi uint8) dtcKey {
	return dtcKey(spn<<8 | uint32(fmi))
}

func (d DTC) key() dtcKey {
	return keyOf(d.SPN, d.FMI)
}

const maxOccurrenceCount = 126

// EncodeDTC packs one DTC into its 4-byte J1939-73 wire form:
// byte0..1 = SPN[0..15], byte2 = (SPN[16..18]<<5)|FMI, byte3 = OC&0x7F
// with the conversion-method bit in byte3's top bit.
func EncodeDTC(d DTC) [4]byte {
	var b [4]byte
	b[0] = byte(d.SPN)
	b[1] = byte(d.SPN >> 8)
	b[2] = byte((d.SPN>>16)&0x7)<<5 | (d.FMI & 0x1F)
	oc := d.OccurrenceCount
	if oc > maxOccurrenceCount {
		oc = maxOccurrenceCount
	}
	b[3] = oc & 0x7F
	if d.ConversionMethod != 0 {
		b[3] |= 0x80
	}
	return b
}

// DecodeDTC unpacks a 4-byte J1939-73 DTC.
func DecodeDTC(b [4]byte) DTC {
	spn := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2]>>5)<<16
	return DTC{
		SPN:              spn,
		FMI:              b[2] & 0x1F,
		OccurrenceCount:  b[3] & 0x7F,
		ConversionMethod: (b[3] >> 7) & 0x1,
	}
}

// LampStatus is the 2-byte, four-lamp header that precedes the DTC
// list in DM1/DM2: each lamp is a 2-bit
// field, 0=off 1=on 2=reserved 3=not-available.
type LampStatus struct {
	MalfunctionIndicator uint8
	RedStopLamp          uint8
	AmberWarningLamp     uint8
	ProtectLamp          uint8
	FlashMalfunction     uint8
	FlashRedStop         uint8
	FlashAmberWarning    uint8
	FlashProtect         uint8
}

// EncodeLampStatus packs the lamp header into its 2-byte wire form.
func EncodeLampStatus(l LampStatus) [2]byte {
	var b [2]byte
	b[0] = (l.ProtectLamp&0x3)<<6 | (l.AmberWarningLamp&0x3)<<4 | (l.RedStopLamp&0x3)<<2 | (l.MalfunctionIndicator & 0x3)
	b[1] = (l.FlashProtect&0x3)<<6 | (l.FlashAmberWarning&0x3)<<4 | (l.FlashRedStop&0x3)<<2 | (l.FlashMalfunction & 0x3)
	return b
}

// DecodeLampStatus unpacks the 2-byte lamp header.
func DecodeLampStatus(b [2]byte) LampStatus {
	return LampStatus{
		MalfunctionIndicator: b[0] & 0x3,
		RedStopLamp:          (b[0] >> 2) & 0x3,
		AmberWarningLamp:     (b[0] >> 4) & 0x3,
		ProtectLamp:          (b[0] >> 6) & 0x3,
		FlashMalfunction:     b[1] & 0x3,
		FlashRedStop:         (b[1] >> 2) & 0x3,
		FlashAmberWarning:    (b[1] >> 4) & 0x3,
		FlashProtect:         (b[1] >> 6) & 0x3,
	}
}

// SPNValue is one measured-value snapshot inside a FreezeFrame.
type SPNValue struct {
	SPN   uint32
	Value uint32
}

// FreezeFrame captures the diagnostic state at the moment a DTC was
// activated.
type FreezeFrame struct {
	DTC       DTC
	Timestamp uint64 // seconds since the station came up; supplied by the caller
	Snapshots []SPNValue
}

// EncodeFreezeFrame packs a freeze frame for DM25 transport: the
// 4-byte DTC, an 8-byte little-endian capture timestamp, a 1-byte
// snapshot count, then 7 bytes per snapshot (3-byte SPN, 4-byte
// little-endian value).
func EncodeFreezeFrame(f FreezeFrame) []byte {
	out := make([]byte, 0, 13+7*len(f.Snapshots))
	dtc := EncodeDTC(f.DTC)
	out = append(out, dtc[:]...)
	for i := 0; i < 8; i++ {
		out = append(out, byte(f.Timestamp>>(8*i)))
	}
	out = append(out, byte(len(f.Snapshots)))
	for _, s := range f.Snapshots {
		out = append(out,
			byte(s.SPN), byte(s.SPN>>8), byte(s.SPN>>16),
			byte(s.Value), byte(s.Value>>8), byte(s.Value>>16), byte(s.Value>>24))
	}
	return out
}

// DecodeFreezeFrame unpacks the EncodeFreezeFrame layout. A declared
// snapshot count overflowing the buffer fails.
func DecodeFreezeFrame(b []byte) (FreezeFrame, bool) {
	if len(b) < 13 {
		return FreezeFrame{}, false
	}
	var dtcBytes [4]byte
	copy(dtcBytes[:], b[0:4])
	f := FreezeFrame{DTC: DecodeDTC(dtcBytes)}
	for i := 0; i < 8; i++ {
		f.Timestamp |= uint64(b[4+i]) << (8 * i)
	}
	count := int(b[12])
	if len(b) < 13+7*count {
		return FreezeFrame{}, false
	}
	for i := 0; i < count; i++ {
		off := 13 + 7*i
		f.Snapshots = append(f.Snapshots, SPNValue{
			SPN:   uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16,
			Value: uint32(b[off+3]) | uint32(b[off+4])<<8 | uint32(b[off+5])<<16 | uint32(b[off+6])<<24,
		})
	}
	return f, true
}
