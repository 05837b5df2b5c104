// Package engine implements the SAE J1939-71 engine and transmission
// broadcast messages: EEC1-3, engine temperature/fluid/hours/fuel-
// economy, ETC1-2, transmission oil temperature, cruise control, and
// aftertreatment 1-2. Messages follow the same fixed-layout
// encode/decode convention as the diagnostics package.
package engine

import "encoding/binary"

// Standard engine/transmission PGNs (SAE J1939-71).
const (
	PGNEEC1               uint32 = 0xF004
	PGNEEC2               uint32 = 0xF003
	PGNEEC3               uint32 = 0xF005
	PGNEngineTemp1        uint32 = 0xFEEE
	PGNEngineTemp2        uint32 = 0xFEA4
	PGNEngineFluidLP      uint32 = 0xFEEF
	PGNEngineHours        uint32 = 0xFEE5
	PGNFuelEconomy        uint32 = 0xFEF2
	PGNETC1               uint32 = 0xF002
	PGNETC2               uint32 = 0xFEF8
	PGNTransmissionOilTemp uint32 = 0xFEEA
	PGNCruiseControl      uint32 = 0xFEF1
	PGNAftertreatment1    uint32 = 0xFD7C
	PGNAftertreatment2    uint32 = 0xFD7B
)

const reservedByte = 0xFF

func fillReserved(b []byte, from int) {
	for i := from; i < len(b); i++ {
		b[i] = reservedByte
	}
}

// EEC1 is Electronic Engine Controller 1 (SPN 190 engine speed plus
// the torque triplet).
type EEC1 struct {
	StarterMode            uint8
	DriverDemandPercent    float64 // offset -125, 1%/bit
	ActualEnginePercent    float64 // offset -125, 1%/bit
	EngineTorquePercent    float64 // offset -125, 1%/bit
	EngineSpeedRPM         float64 // 0.125 rpm/bit
	SourceAddress          uint8
}

// EncodeEEC1 packs an EEC1 into its 8-byte wire form.
func EncodeEEC1(m EEC1) []byte {
	b := make([]byte, 8)
	b[0] = m.StarterMode
	b[1] = pctOffsetEncode(m.DriverDemandPercent)
	b[2] = pctOffsetEncode(m.ActualEnginePercent)
	b[3] = pctOffsetEncode(m.EngineTorquePercent)
	binary.LittleEndian.PutUint16(b[4:6], rpmEncode(m.EngineSpeedRPM))
	b[6] = m.SourceAddress
	b[7] = reservedByte
	return b
}

// DecodeEEC1 unpacks an 8-byte EEC1 message.
func DecodeEEC1(b []byte) EEC1 {
	return EEC1{
		StarterMode:         b[0],
		DriverDemandPercent: pctOffsetDecode(b[1]),
		ActualEnginePercent: pctOffsetDecode(b[2]),
		EngineTorquePercent: pctOffsetDecode(b[3]),
		EngineSpeedRPM:      rpmDecode(binary.LittleEndian.Uint16(b[4:6])),
		SourceAddress:       b[6],
	}
}

// EEC2 is Electronic Engine Controller 2 (accelerator pedal and load).
type EEC2 struct {
	AccelPedalPosition  uint8
	EngineLoadPercent   float64 // 1%/bit, 0-250
	AccelPedalLowIdle   uint8   // 2-bit field
	AccelPedalKickdown  uint8   // 2-bit field
	RoadSpeedLimit      uint8   // 1 km/h/bit
}

// EncodeEEC2 packs an EEC2 into its 8-byte wire form.
func EncodeEEC2(m EEC2) []byte {
	b := make([]byte, 8)
	b[0] = m.AccelPedalPosition
	b[1] = clampByte(m.EngineLoadPercent)
	b[2] = (m.AccelPedalLowIdle & 0x3) | (m.AccelPedalKickdown&0x3)<<2
	b[3] = m.RoadSpeedLimit
	fillReserved(b, 4)
	return b
}

// DecodeEEC2 unpacks an 8-byte EEC2 message.
func DecodeEEC2(b []byte) EEC2 {
	return EEC2{
		AccelPedalPosition: b[0],
		EngineLoadPercent:  float64(b[1]),
		AccelPedalLowIdle:  b[2] & 0x3,
		AccelPedalKickdown: (b[2] >> 2) & 0x3,
		RoadSpeedLimit:     b[3],
	}
}

// EEC3 is Electronic Engine Controller 3 (nominal friction and desired
// operating speed, used by PTO/cruise governors).
type EEC3 struct {
	NominalFrictionPercent      float64 // offset -125, 1%/bit
	DesiredOperatingSpeedRPM    float64 // 0.125 rpm/bit
	OperatingSpeedAsymmetry     uint8
}

// EncodeEEC3 packs an EEC3 into its 8-byte wire form.
func EncodeEEC3(m EEC3) []byte {
	b := make([]byte, 8)
	b[0] = pctOffsetEncode(m.NominalFrictionPercent)
	binary.LittleEndian.PutUint16(b[1:3], rpmEncode(m.DesiredOperatingSpeedRPM))
	b[3] = m.OperatingSpeedAsymmetry
	fillReserved(b, 4)
	return b
}

// DecodeEEC3 unpacks an 8-byte EEC3 message.
func DecodeEEC3(b []byte) EEC3 {
	return EEC3{
		NominalFrictionPercent:   pctOffsetDecode(b[0]),
		DesiredOperatingSpeedRPM: rpmDecode(binary.LittleEndian.Uint16(b[1:3])),
		OperatingSpeedAsymmetry:  b[3],
	}
}

// EngineTemp1 is Engine Temperature 1 (coolant/fuel/oil/turbo/
// intercooler temperatures).
type EngineTemp1 struct {
	CoolantTempC      float64 // offset -40, 1C/bit
	FuelTempC         float64 // offset -40, 1C/bit
	OilTempC          float64 // offset -273, 0.03125C/bit
	TurboOilTempC     float64 // offset -273, 0.03125C/bit
	IntercoolerTempC  float64 // offset -40, 1C/bit
}

// EncodeEngineTemp1 packs an EngineTemp1 into its 8-byte wire form.
func EncodeEngineTemp1(m EngineTemp1) []byte {
	b := make([]byte, 8)
	b[0] = tempCoarseEncode(m.CoolantTempC)
	b[1] = tempCoarseEncode(m.FuelTempC)
	binary.LittleEndian.PutUint16(b[2:4], tempFineEncode(m.OilTempC))
	binary.LittleEndian.PutUint16(b[4:6], tempFineEncode(m.TurboOilTempC))
	b[6] = tempCoarseEncode(m.IntercoolerTempC)
	b[7] = reservedByte
	return b
}

// DecodeEngineTemp1 unpacks an 8-byte EngineTemp1 message.
func DecodeEngineTemp1(b []byte) EngineTemp1 {
	return EngineTemp1{
		CoolantTempC:     tempCoarseDecode(b[0]),
		FuelTempC:        tempCoarseDecode(b[1]),
		OilTempC:         tempFineDecode(binary.LittleEndian.Uint16(b[2:4])),
		TurboOilTempC:    tempFineDecode(binary.LittleEndian.Uint16(b[4:6])),
		IntercoolerTempC: tempCoarseDecode(b[6]),
	}
}

// EngineTemp2 is Engine Temperature 2 (finer-grained oil/turbo/
// intercooler/secondary-turbo temperatures).
type EngineTemp2 struct {
	EngineOilTempC         float64 // offset -273, 0.03125C/bit
	TurboOilTempC          float64 // offset -273, 0.03125C/bit
	EngineIntercoolerTempC float64 // offset -40, 1C/bit
	Turbo1TempC            float64 // offset -273, 0.03125C/bit
}

// EncodeEngineTemp2 packs an EngineTemp2 into its 8-byte wire form.
func EncodeEngineTemp2(m EngineTemp2) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], tempFineEncode(m.EngineOilTempC))
	binary.LittleEndian.PutUint16(b[2:4], tempFineEncode(m.TurboOilTempC))
	b[4] = tempCoarseEncode(m.EngineIntercoolerTempC)
	binary.LittleEndian.PutUint16(b[5:7], tempFineEncode(m.Turbo1TempC))
	b[7] = reservedByte
	return b
}

// DecodeEngineTemp2 unpacks an 8-byte EngineTemp2 message.
func DecodeEngineTemp2(b []byte) EngineTemp2 {
	return EngineTemp2{
		EngineOilTempC:         tempFineDecode(binary.LittleEndian.Uint16(b[0:2])),
		TurboOilTempC:          tempFineDecode(binary.LittleEndian.Uint16(b[2:4])),
		EngineIntercoolerTempC: tempCoarseDecode(b[4]),
		Turbo1TempC:            tempFineDecode(binary.LittleEndian.Uint16(b[5:7])),
	}
}

// EngineFluidLP is Engine Fluid Level/Pressure 1.
type EngineFluidLP struct {
	OilPressureKPA          float64 // 4 kPa/bit
	CoolantPressureKPA      float64 // 2 kPa/bit
	OilLevelPercent         uint8   // raw 0-250
	CoolantLevelPercent     uint8   // raw 0-250
	FuelDeliveryPressureKPA float64 // 4 kPa/bit
	CrankcasePressureKPA    float64 // offset -125, 1 kPa/bit
}

// EncodeEngineFluidLP packs an EngineFluidLP into its 8-byte wire form.
func EncodeEngineFluidLP(m EngineFluidLP) []byte {
	b := make([]byte, 8)
	b[0] = kpaEncode(m.OilPressureKPA, 4)
	b[1] = kpaEncode(m.CoolantPressureKPA, 2)
	b[2] = m.OilLevelPercent
	b[3] = m.CoolantLevelPercent
	b[4] = kpaEncode(m.FuelDeliveryPressureKPA, 4)
	b[5] = pctOffsetEncode(m.CrankcasePressureKPA)
	fillReserved(b, 6)
	return b
}

// DecodeEngineFluidLP unpacks an 8-byte EngineFluidLP message.
func DecodeEngineFluidLP(b []byte) EngineFluidLP {
	return EngineFluidLP{
		OilPressureKPA:          kpaDecode(b[0], 4),
		CoolantPressureKPA:      kpaDecode(b[1], 2),
		OilLevelPercent:         b[2],
		CoolantLevelPercent:     b[3],
		FuelDeliveryPressureKPA: kpaDecode(b[4], 4),
		CrankcasePressureKPA:    pctOffsetDecode(b[5]),
	}
}

// EngineHours is total operating hours and engine revolutions.
type EngineHours struct {
	TotalHours        float64 // 0.05 hr/bit
	TotalRevolutions  float64 // 1000 rev/bit
}

// EncodeEngineHours packs an EngineHours into its 8-byte wire form.
func EncodeEngineHours(m EngineHours) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.TotalHours/0.05+0.5))
	binary.LittleEndian.PutUint32(b[4:8], uint32(m.TotalRevolutions/1000+0.5))
	return b
}

// DecodeEngineHours unpacks an 8-byte EngineHours message.
func DecodeEngineHours(b []byte) EngineHours {
	return EngineHours{
		TotalHours:       float64(binary.LittleEndian.Uint32(b[0:4])) * 0.05,
		TotalRevolutions: float64(binary.LittleEndian.Uint32(b[4:8])) * 1000,
	}
}

// FuelEconomy is the LFE (fuel rate / economy) message.
type FuelEconomy struct {
	FuelRateLPH        float64 // 0.05 L/h per bit
	InstantaneousLPH   float64 // 0.05 L/h per bit
	ThrottlePosition   float64 // 0.4%/bit
}

// EncodeFuelEconomy packs a FuelEconomy into its 8-byte wire form.
func EncodeFuelEconomy(m FuelEconomy) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], uint16(m.FuelRateLPH/0.05+0.5))
	binary.LittleEndian.PutUint16(b[2:4], uint16(m.InstantaneousLPH/0.05+0.5))
	b[4] = byte(m.ThrottlePosition/0.4 + 0.5)
	fillReserved(b, 5)
	return b
}

// DecodeFuelEconomy unpacks an 8-byte FuelEconomy message.
func DecodeFuelEconomy(b []byte) FuelEconomy {
	return FuelEconomy{
		FuelRateLPH:      float64(binary.LittleEndian.Uint16(b[0:2])) * 0.05,
		InstantaneousLPH: float64(binary.LittleEndian.Uint16(b[2:4])) * 0.05,
		ThrottlePosition: float64(b[4]) * 0.4,
	}
}

// ETC1 is Electronic Transmission Controller 1 (gear state, clutch
// slip, output shaft speed). This module keeps one canonical ETC1
// shape; see DESIGN.md for why the original's two conflicting ETC1
// definitions (one in its engine header, one in its transmission
// header) were merged into this single struct.
type ETC1 struct {
	ShiftInProgress       uint8 // 2-bit field
	TorqueConverterLockup uint8 // 2-bit field
	DrivelineEngaged      uint8 // 2-bit field
	OutputShaftSpeedRPM   float64 // 0.125 rpm/bit
	ClutchSlipPercent     float64 // 1%/bit, 0-125
	CurrentGear           int8    // offset -125
	SelectedGear          int8    // offset -125
	RequestedRange        uint8
	CurrentRange          uint8
}

// EncodeETC1 packs an ETC1 into its 8-byte wire form.
func EncodeETC1(m ETC1) []byte {
	b := make([]byte, 8)
	b[0] = (m.ShiftInProgress & 0x3) | (m.TorqueConverterLockup&0x3)<<2 | (m.DrivelineEngaged&0x3)<<4
	binary.LittleEndian.PutUint16(b[1:3], rpmEncode(m.OutputShaftSpeedRPM))
	b[3] = clampByte(m.ClutchSlipPercent)
	b[4] = gearEncode(m.CurrentGear)
	b[5] = gearEncode(m.SelectedGear)
	b[6] = m.RequestedRange
	b[7] = m.CurrentRange
	return b
}

// DecodeETC1 unpacks an 8-byte ETC1 message.
func DecodeETC1(b []byte) ETC1 {
	return ETC1{
		ShiftInProgress:       b[0] & 0x3,
		TorqueConverterLockup: (b[0] >> 2) & 0x3,
		DrivelineEngaged:      (b[0] >> 4) & 0x3,
		OutputShaftSpeedRPM:   rpmDecode(binary.LittleEndian.Uint16(b[1:3])),
		ClutchSlipPercent:     float64(b[3]),
		CurrentGear:           gearDecode(b[4]),
		SelectedGear:          gearDecode(b[5]),
		RequestedRange:        b[6],
		CurrentRange:          b[7],
	}
}

// ETC2 is Electronic Transmission Controller 2 (oil condition and
// range selection).
type ETC2 struct {
	TransOilTempC                float64 // offset -273, 0.03125C/bit
	TransOilLevel                uint8   // raw 0-250
	TransOilPressureKPA          float64 // 4 kPa/bit
	TransOilFilterDiffPressureKPA float64 // 0.5 kPa/bit
	TransRangeSelected           uint8
	TransRangeAttained           uint8
}

// EncodeETC2 packs an ETC2 into its 8-byte wire form.
func EncodeETC2(m ETC2) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], tempFineEncode(m.TransOilTempC))
	b[2] = m.TransOilLevel
	b[3] = kpaEncode(m.TransOilPressureKPA, 4)
	b[4] = byte(m.TransOilFilterDiffPressureKPA/0.5 + 0.5)
	b[5] = m.TransRangeSelected
	b[6] = m.TransRangeAttained
	b[7] = reservedByte
	return b
}

// DecodeETC2 unpacks an 8-byte ETC2 message.
func DecodeETC2(b []byte) ETC2 {
	return ETC2{
		TransOilTempC:                 tempFineDecode(binary.LittleEndian.Uint16(b[0:2])),
		TransOilLevel:                 b[2],
		TransOilPressureKPA:           kpaDecode(b[3], 4),
		TransOilFilterDiffPressureKPA: float64(b[4]) * 0.5,
		TransRangeSelected:            b[5],
		TransRangeAttained:            b[6],
	}
}

// TransmissionOilTemp is a single-purpose transmission oil temperature
// broadcast (offset -273, 0.03125C/bit, matching ETC2's field but sent
// independently by transmissions that do not implement full ETC2).
type TransmissionOilTemp struct {
	OilTempC float64
}

// EncodeTransmissionOilTemp packs a TransmissionOilTemp into its
// 8-byte wire form.
func EncodeTransmissionOilTemp(m TransmissionOilTemp) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], tempFineEncode(m.OilTempC))
	fillReserved(b, 2)
	return b
}

// DecodeTransmissionOilTemp unpacks an 8-byte TransmissionOilTemp
// message.
func DecodeTransmissionOilTemp(b []byte) TransmissionOilTemp {
	return TransmissionOilTemp{OilTempC: tempFineDecode(binary.LittleEndian.Uint16(b[0:2]))}
}

// CruiseControl is CCVS (Cruise Control/Vehicle Speed): wheel speed,
// cruise switches, and set speed.
type CruiseControl struct {
	WheelSpeedKMH  float64 // 1/256 km/h per bit
	CCActive       uint8   // 2-bit field
	BrakeSwitch    uint8   // 2-bit field
	ClutchSwitch   uint8   // 2-bit field
	ParkBrake      uint8   // 2-bit field
	CCSetSpeedKMH  float64 // 1/256 km/h per bit
}

// EncodeCruiseControl packs a CruiseControl into its 8-byte wire form.
func EncodeCruiseControl(m CruiseControl) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], uint16(m.WheelSpeedKMH*256+0.5))
	b[2] = (m.CCActive & 0x3) | (m.BrakeSwitch&0x3)<<2 | (m.ClutchSwitch&0x3)<<4 | (m.ParkBrake&0x3)<<6
	binary.LittleEndian.PutUint16(b[3:5], uint16(m.CCSetSpeedKMH*256+0.5))
	fillReserved(b, 5)
	return b
}

// DecodeCruiseControl unpacks an 8-byte CruiseControl message.
func DecodeCruiseControl(b []byte) CruiseControl {
	return CruiseControl{
		WheelSpeedKMH: float64(binary.LittleEndian.Uint16(b[0:2])) / 256,
		CCActive:      b[2] & 0x3,
		BrakeSwitch:   (b[2] >> 2) & 0x3,
		ClutchSwitch:  (b[2] >> 4) & 0x3,
		ParkBrake:     (b[2] >> 6) & 0x3,
		CCSetSpeedKMH: float64(binary.LittleEndian.Uint16(b[3:5])) / 256,
	}
}

// Aftertreatment1 is DEF tank level and NOx sensor readings.
type Aftertreatment1 struct {
	DieselExhaustFluidTankLevel float64 // 0.4%/bit
	IntakeNOxPPM                float64 // 0.05 ppm/bit
	OutletNOxPPM                float64 // 0.05 ppm/bit
	IntakeNOxReadingStatus      uint8
	OutletNOxReadingStatus      uint8
}

// EncodeAftertreatment1 packs an Aftertreatment1 into its 8-byte wire
// form.
func EncodeAftertreatment1(m Aftertreatment1) []byte {
	b := make([]byte, 8)
	b[0] = byte(m.DieselExhaustFluidTankLevel/0.4 + 0.5)
	binary.LittleEndian.PutUint16(b[1:3], uint16(m.IntakeNOxPPM/0.05+0.5))
	binary.LittleEndian.PutUint16(b[3:5], uint16(m.OutletNOxPPM/0.05+0.5))
	b[5] = m.IntakeNOxReadingStatus
	b[6] = m.OutletNOxReadingStatus
	b[7] = reservedByte
	return b
}

// DecodeAftertreatment1 unpacks an 8-byte Aftertreatment1 message.
func DecodeAftertreatment1(b []byte) Aftertreatment1 {
	return Aftertreatment1{
		DieselExhaustFluidTankLevel: float64(b[0]) * 0.4,
		IntakeNOxPPM:                float64(binary.LittleEndian.Uint16(b[1:3])) * 0.05,
		OutletNOxPPM:                float64(binary.LittleEndian.Uint16(b[3:5])) * 0.05,
		IntakeNOxReadingStatus:      b[5],
		OutletNOxReadingStatus:      b[6],
	}
}

// Aftertreatment2 is DPF differential pressure, soot load, and
// regeneration status.
type Aftertreatment2 struct {
	DPFDifferentialPressureKPA    float64 // 0.05 kPa/bit
	DieselExhaustFluidConcentration float64 // 0.4%/bit
	DPFSootLoadPercent            float64 // 0.4%/bit
	DPFActiveRegenerationStatus   uint8
	DPFPassiveRegenerationStatus  uint8
}

// EncodeAftertreatment2 packs an Aftertreatment2 into its 8-byte wire
// form.
func EncodeAftertreatment2(m Aftertreatment2) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], uint16(m.DPFDifferentialPressureKPA/0.05+0.5))
	b[2] = byte(m.DieselExhaustFluidConcentration/0.4 + 0.5)
	b[3] = byte(m.DPFSootLoadPercent/0.4 + 0.5)
	b[4] = m.DPFActiveRegenerationStatus
	b[5] = m.DPFPassiveRegenerationStatus
	fillReserved(b, 6)
	return b
}

// DecodeAftertreatment2 unpacks an 8-byte Aftertreatment2 message.
func DecodeAftertreatment2(b []byte) Aftertreatment2 {
	return Aftertreatment2{
		DPFDifferentialPressureKPA:      float64(binary.LittleEndian.Uint16(b[0:2])) * 0.05,
		DieselExhaustFluidConcentration: float64(b[2]) * 0.4,
		DPFSootLoadPercent:              float64(b[3]) * 0.4,
		DPFActiveRegenerationStatus:     b[4],
		DPFPassiveRegenerationStatus:    b[5],
	}
}

// --- shared scalar codecs ---

func pctOffsetEncode(percent float64) uint8 {
	v := percent + 125
	return clampByte(v)
}

func pctOffsetDecode(b uint8) float64 {
	return float64(b) - 125
}

func rpmEncode(rpm float64) uint16 {
	v := rpm / 0.125
	if v < 0 {
		v = 0
	}
	if v > 0xFFFF {
		v = 0xFFFF
	}
	return uint16(v + 0.5)
}

func rpmDecode(raw uint16) float64 {
	return float64(raw) * 0.125
}

func tempCoarseEncode(c float64) uint8 {
	return clampByte(c + 40)
}

func tempCoarseDecode(b uint8) float64 {
	return float64(b) - 40
}

func tempFineEncode(c float64) uint16 {
	v := (c + 273) / 0.03125
	if v < 0 {
		v = 0
	}
	if v > 0xFFFF {
		v = 0xFFFF
	}
	return uint16(v + 0.5)
}

func tempFineDecode(raw uint16) float64 {
	return float64(raw)*0.03125 - 273
}

func kpaEncode(kpa float64, resolution float64) uint8 {
	return clampByte(kpa / resolution)
}

func kpaDecode(b uint8, resolution float64) float64 {
	return float64(b) * resolution
}

func gearEncode(gear int8) uint8 {
	return uint8(int16(gear) + 125)
}

func gearDecode(b uint8) int8 {
	return int8(int16(b) - 125)
}

func clampByte(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}
