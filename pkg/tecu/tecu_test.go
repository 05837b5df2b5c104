package tecu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyClass1OnlyBasicMeasurements(t *testing.T) {
	f := Classify(Classification{BaseClass: Class1, Version: 1})
	assert.True(t, f.RearHitchPosition)
	assert.True(t, f.RearPTOSpeed)
	assert.False(t, f.RearHitchPositionCommand)
	assert.False(t, f.RearDraft)
}

func TestClassifyClass3AddsCommandsAndVersion2AddsLimits(t *testing.T) {
	f := Classify(Classification{BaseClass: Class3, Version: 2})
	assert.True(t, f.RearHitchPositionCommand)
	assert.True(t, f.RearHitchLimitStatus)
	assert.True(t, f.AuxValves[0].Command)
	assert.True(t, f.AuxValves[0].LimitStatus)
}

func TestFrontMountedMirrorsRear(t *testing.T) {
	f := Classify(Classification{BaseClass: Class3, Addenda: Addenda{FrontMounted: true}})
	assert.Equal(t, f.RearHitchPosition, f.FrontHitchPosition)
	assert.Equal(t, f.RearPTOSpeedCommand, f.FrontPTOSpeedCommand)
}

func TestDifferenceDeduplicatesSecondaryAgainstPrimary(t *testing.T) {
	primary := Classify(Classification{BaseClass: Class2})
	secondary := Classify(Classification{BaseClass: Class3, Version: 2})
	diff := Difference(secondary, primary)
	assert.False(t, diff.RearHitchPosition) // offered by both -> withheld
	assert.True(t, diff.RearHitchPositionCommand)
}

func TestMultiTECUSecondaryWithholdsUntilPrimaryObserved(t *testing.T) {
	m := &Manager{classification: Classification{Instance: 1}, facilities: Classify(Classification{BaseClass: Class3})}
	_, ok := m.EffectiveFacilities()
	assert.False(t, ok)

	m.primaryObserved = true
	m.primaryFacilities = Classify(Classification{BaseClass: Class1})
	eff, ok := m.EffectiveFacilities()
	require.True(t, ok)
	assert.False(t, eff.RearHitchPosition)
	assert.True(t, eff.RearHitchPositionCommand)
}

func TestFacilitiesEncodeDecodeRoundTrip(t *testing.T) {
	f := Classify(Classification{BaseClass: Class3, Version: 2, Addenda: Addenda{Navigation: true, Guidance: true}})
	decoded, ok := decodeFacilities(encodeFacilities(f))
	require.True(t, ok)
	assert.Equal(t, f, decoded)
}

func TestPowerFSMMonotoneFinalShutdown(t *testing.T) {
	p := NewPowerManager(180*time.Second, 2*time.Second)
	p.SetKeySwitch(true)
	require.Equal(t, IgnitionOn, p.State())

	p.SetKeySwitch(false)
	require.Equal(t, ShutdownInitiated, p.State())

	for i := 0; i < 5; i++ {
		p.Update(time.Second)
	}
	assert.Equal(t, FinalShutdown, p.State())

	// Monotone: no transition out of FinalShutdown without a key-on.
	p.Update(time.Second)
	assert.Equal(t, FinalShutdown, p.State())
	ecu, pwr := p.Rails()
	assert.False(t, ecu)
	assert.False(t, pwr)
}

func TestPowerFSMMaintainRequestsDelayFinalShutdown(t *testing.T) {
	p := NewPowerManager(180*time.Second, 2*time.Second)
	p.SetKeySwitch(true)
	p.SetKeySwitch(false)

	for i := 0; i < 3; i++ {
		p.RequestMaintain(0x10, true, true)
		p.Update(time.Second)
	}
	assert.Equal(t, ShutdownInitiated, p.State())

	p.Update(2 * time.Second)
	assert.Equal(t, FinalShutdown, p.State())
}

type recordingActions struct {
	ptos, hitches, valves []int
}

func (r *recordingActions) DisengagePTO(front bool)     { r.ptos = append(r.ptos, boolIdx(front)) }
func (r *recordingActions) NeutralizeHitch(front bool)  { r.hitches = append(r.hitches, boolIdx(front)) }
func (r *recordingActions) CloseAuxValve(index int)     { r.valves = append(r.valves, index) }
func boolIdx(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestSafeModeTriggerRunsFailsafeActionsOnce(t *testing.T) {
	actions := &recordingActions{}
	sm := NewSafeMode(actions)
	f := Classify(Classification{BaseClass: Class3, Addenda: Addenda{FrontMounted: true}})

	sm.Trigger("operator request", f)
	assert.True(t, sm.Active())
	assert.Contains(t, actions.ptos, 0)
	assert.Contains(t, actions.ptos, 1)
	assert.NotEmpty(t, actions.valves)

	sm.Clear()
	assert.False(t, sm.Active())
	assert.Empty(t, actions.ptos[2:]) // clearing never re-runs actions
}
