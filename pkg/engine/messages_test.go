package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEEC1RoundTrip(t *testing.T) {
	m := EEC1{
		StarterMode:         2,
		DriverDemandPercent: 80,
		ActualEnginePercent: 62,
		EngineTorquePercent: 45,
		EngineSpeedRPM:      1800.0,
		SourceAddress:       0x00,
	}
	got := DecodeEEC1(EncodeEEC1(m))
	assert.Equal(t, m, got)
}

func TestEEC2RoundTrip(t *testing.T) {
	m := EEC2{
		AccelPedalPosition: 100,
		EngineLoadPercent:  75,
		AccelPedalLowIdle:  1,
		AccelPedalKickdown: 0,
		RoadSpeedLimit:     89,
	}
	got := DecodeEEC2(EncodeEEC2(m))
	assert.Equal(t, m, got)
}

func TestEEC3RoundTrip(t *testing.T) {
	m := EEC3{
		NominalFrictionPercent:   30,
		DesiredOperatingSpeedRPM: 1200,
		OperatingSpeedAsymmetry:  5,
	}
	got := DecodeEEC3(EncodeEEC3(m))
	assert.Equal(t, m, got)
}

func TestEngineTemp1RoundTrip(t *testing.T) {
	m := EngineTemp1{
		CoolantTempC:     90,
		FuelTempC:        45,
		OilTempC:         100,
		TurboOilTempC:    110,
		IntercoolerTempC: 60,
	}
	got := DecodeEngineTemp1(EncodeEngineTemp1(m))
	assert.InDelta(t, m.CoolantTempC, got.CoolantTempC, 0.001)
	assert.InDelta(t, m.FuelTempC, got.FuelTempC, 0.001)
	assert.InDelta(t, m.OilTempC, got.OilTempC, 0.1)
	assert.InDelta(t, m.TurboOilTempC, got.TurboOilTempC, 0.1)
	assert.InDelta(t, m.IntercoolerTempC, got.IntercoolerTempC, 0.001)
}

func TestEngineTemp1DefaultsRoundTrip(t *testing.T) {
	m := EngineTemp1{CoolantTempC: -40, FuelTempC: -40, OilTempC: -40, TurboOilTempC: -40, IntercoolerTempC: -40}
	got := DecodeEngineTemp1(EncodeEngineTemp1(m))
	assert.InDelta(t, -40.0, got.CoolantTempC, 0.001)
	assert.InDelta(t, -40.0, got.OilTempC, 0.1)
}

func TestEngineTemp2RoundTrip(t *testing.T) {
	m := EngineTemp2{
		EngineOilTempC:         95,
		TurboOilTempC:          105,
		EngineIntercoolerTempC: 55,
		Turbo1TempC:            115,
	}
	got := DecodeEngineTemp2(EncodeEngineTemp2(m))
	assert.InDelta(t, m.EngineOilTempC, got.EngineOilTempC, 0.1)
	assert.InDelta(t, m.TurboOilTempC, got.TurboOilTempC, 0.1)
	assert.InDelta(t, m.EngineIntercoolerTempC, got.EngineIntercoolerTempC, 1.0)
	assert.InDelta(t, m.Turbo1TempC, got.Turbo1TempC, 0.1)
}

func TestEngineFluidLPRoundTrip(t *testing.T) {
	m := EngineFluidLP{
		OilPressureKPA:          400,
		CoolantPressureKPA:      200,
		OilLevelPercent:         80,
		CoolantLevelPercent:     90,
		FuelDeliveryPressureKPA: 300,
		CrankcasePressureKPA:    10,
	}
	got := DecodeEngineFluidLP(EncodeEngineFluidLP(m))
	assert.InDelta(t, m.OilPressureKPA, got.OilPressureKPA, 0.1)
	assert.InDelta(t, m.CoolantPressureKPA, got.CoolantPressureKPA, 0.1)
	assert.Equal(t, m.OilLevelPercent, got.OilLevelPercent)
	assert.Equal(t, m.CoolantLevelPercent, got.CoolantLevelPercent)
	assert.InDelta(t, m.FuelDeliveryPressureKPA, got.FuelDeliveryPressureKPA, 0.1)
	assert.InDelta(t, m.CrankcasePressureKPA, got.CrankcasePressureKPA, 0.1)
}

func TestEngineHoursRoundTrip(t *testing.T) {
	m := EngineHours{TotalHours: 1234.5, TotalRevolutions: 987000}
	got := DecodeEngineHours(EncodeEngineHours(m))
	assert.InDelta(t, m.TotalHours, got.TotalHours, 0.1)
	assert.InDelta(t, m.TotalRevolutions, got.TotalRevolutions, 1000)
}

func TestFuelEconomyRoundTrip(t *testing.T) {
	m := FuelEconomy{FuelRateLPH: 12.35, InstantaneousLPH: 8.5, ThrottlePosition: 45.2}
	got := DecodeFuelEconomy(EncodeFuelEconomy(m))
	assert.InDelta(t, m.FuelRateLPH, got.FuelRateLPH, 0.1)
	assert.InDelta(t, m.InstantaneousLPH, got.InstantaneousLPH, 0.01)
	assert.InDelta(t, m.ThrottlePosition, got.ThrottlePosition, 0.5)
}

func TestETC1RoundTrip(t *testing.T) {
	m := ETC1{
		ShiftInProgress:       1,
		TorqueConverterLockup: 2,
		DrivelineEngaged:      3,
		OutputShaftSpeedRPM:   900,
		ClutchSlipPercent:     15,
		CurrentGear:           4,
		SelectedGear:          4,
		RequestedRange:        0x0A,
		CurrentRange:          0x0A,
	}
	got := DecodeETC1(EncodeETC1(m))
	assert.Equal(t, m, got)
}

func TestETC1BitPacking(t *testing.T) {
	m := ETC1{ShiftInProgress: 2, TorqueConverterLockup: 1}
	b := EncodeETC1(m)
	assert.Equal(t, byte(0x02), b[0]&0x03)
	assert.Equal(t, byte(0x01), (b[0]>>2)&0x03)
}

func TestETC1GearRange(t *testing.T) {
	for _, g := range []int8{-1, 0, 18} {
		got := gearDecode(gearEncode(g))
		assert.Equal(t, g, got)
	}
}

func TestETC2RoundTrip(t *testing.T) {
	m := ETC2{
		TransOilTempC:                 85,
		TransOilLevel:                 70,
		TransOilPressureKPA:           600,
		TransOilFilterDiffPressureKPA: 12.5,
		TransRangeSelected:            3,
		TransRangeAttained:            3,
	}
	got := DecodeETC2(EncodeETC2(m))
	assert.InDelta(t, m.TransOilTempC, got.TransOilTempC, 0.1)
	assert.Equal(t, m.TransOilLevel, got.TransOilLevel)
	assert.InDelta(t, m.TransOilPressureKPA, got.TransOilPressureKPA, 4.0)
	assert.InDelta(t, m.TransOilFilterDiffPressureKPA, got.TransOilFilterDiffPressureKPA, 0.5)
	assert.Equal(t, m.TransRangeSelected, got.TransRangeSelected)
	assert.Equal(t, m.TransRangeAttained, got.TransRangeAttained)
}

func TestTransmissionOilTempRawBytes(t *testing.T) {
	m := TransmissionOilTemp{OilTempC: 100}
	b := EncodeTransmissionOilTemp(m)
	expectedRaw := uint16((100.0 + 273.0) / 0.03125)
	actualRaw := uint16(b[0]) | uint16(b[1])<<8
	assert.Equal(t, expectedRaw, actualRaw)
}

func TestCruiseControlRoundTrip(t *testing.T) {
	m := CruiseControl{
		WheelSpeedKMH: 65,
		CCActive:      1,
		BrakeSwitch:   0,
		ClutchSwitch:  1,
		ParkBrake:     0,
		CCSetSpeedKMH: 80,
	}
	got := DecodeCruiseControl(EncodeCruiseControl(m))
	assert.InDelta(t, m.WheelSpeedKMH, got.WheelSpeedKMH, 1.0/256)
	assert.Equal(t, m.CCActive, got.CCActive)
	assert.Equal(t, m.BrakeSwitch, got.BrakeSwitch)
	assert.Equal(t, m.ClutchSwitch, got.ClutchSwitch)
	assert.Equal(t, m.ParkBrake, got.ParkBrake)
	assert.InDelta(t, m.CCSetSpeedKMH, got.CCSetSpeedKMH, 1.0/256)
}

func TestCruiseControlBitPacking(t *testing.T) {
	m := CruiseControl{CCActive: 1, BrakeSwitch: 2, ClutchSwitch: 3, ParkBrake: 0}
	b := EncodeCruiseControl(m)
	assert.Equal(t, byte(1), b[2]&0x3)
	assert.Equal(t, byte(2), (b[2]>>2)&0x3)
	assert.Equal(t, byte(3), (b[2]>>4)&0x3)
	assert.Equal(t, byte(0), (b[2]>>6)&0x3)
}

func TestAftertreatment1RoundTrip(t *testing.T) {
	m := Aftertreatment1{
		DieselExhaustFluidTankLevel: 60,
		IntakeNOxPPM:                12.5,
		OutletNOxPPM:                3.2,
		IntakeNOxReadingStatus:      1,
		OutletNOxReadingStatus:      1,
	}
	got := DecodeAftertreatment1(EncodeAftertreatment1(m))
	assert.InDelta(t, m.DieselExhaustFluidTankLevel, got.DieselExhaustFluidTankLevel, 0.4)
	assert.InDelta(t, m.IntakeNOxPPM, got.IntakeNOxPPM, 0.05)
	assert.InDelta(t, m.OutletNOxPPM, got.OutletNOxPPM, 0.05)
	assert.Equal(t, m.IntakeNOxReadingStatus, got.IntakeNOxReadingStatus)
	assert.Equal(t, m.OutletNOxReadingStatus, got.OutletNOxReadingStatus)
}

func TestAftertreatment2RoundTrip(t *testing.T) {
	m := Aftertreatment2{
		DPFDifferentialPressureKPA:      2.5,
		DieselExhaustFluidConcentration: 32.4,
		DPFSootLoadPercent:              45.2,
		DPFActiveRegenerationStatus:     1,
		DPFPassiveRegenerationStatus:    0,
	}
	got := DecodeAftertreatment2(EncodeAftertreatment2(m))
	assert.InDelta(t, m.DPFDifferentialPressureKPA, got.DPFDifferentialPressureKPA, 0.05)
	assert.InDelta(t, m.DieselExhaustFluidConcentration, got.DieselExhaustFluidConcentration, 0.4)
	assert.InDelta(t, m.DPFSootLoadPercent, got.DPFSootLoadPercent, 0.4)
	assert.Equal(t, m.DPFActiveRegenerationStatus, got.DPFActiveRegenerationStatus)
	assert.Equal(t, m.DPFPassiveRegenerationStatus, got.DPFPassiveRegenerationStatus)
}
