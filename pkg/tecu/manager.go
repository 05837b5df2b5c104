package tecu

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// Standard TECU PGNs. These are the conventional
// ISO 11783-9 assignments and are documented here rather than derived.
const (
	PGNTractorFacilities uint32 = 0xFE78
	PGNTractorPTOStatus  uint32 = 0xFD04
)

// Manager wires one station's classification, power FSM, and
// safe-mode into the network PGN dispatch table, and implements the
// primary/secondary facility-deduplication protocol.
type Manager struct {
	log *logrus.Entry
	net *network.Manager

	source func() (uint8, bool)

	classification Classification
	facilities     Facilities

	Power    *PowerManager
	SafeMode *SafeMode

	primaryObserved   bool
	primaryFacilities Facilities

	broadcastInterval time.Duration
	broadcastElapsed  time.Duration
}

// NewManager constructs a tecu.Manager for a station of the given
// classification.
func NewManager(net *network.Manager, c Classification, shutdownMaxTime, maintainTimeout, broadcastInterval time.Duration, actions Actions, source func() (uint8, bool)) *Manager {
	m := &Manager{
		log:               logrus.WithField("component", "tecu"),
		net:               net,
		source:            source,
		classification:    c,
		facilities:        Classify(c),
		Power:             NewPowerManager(shutdownMaxTime, maintainTimeout),
		SafeMode:          NewSafeMode(actions),
		broadcastInterval: broadcastInterval,
	}
	m.net.RegisterPGNCallback(PGNTractorFacilities, m.handlePeerFacilities)
	return m
}

func (m *Manager) ownAddress() (uint8, bool) { return m.source() }

// SetClassification updates this station's classification, recomputing
// its offered facilities (and, for a secondary, its deduplicated
// effective set).
func (m *Manager) SetClassification(c Classification) {
	m.classification = c
	m.facilities = Classify(c)
}

// EffectiveFacilities is what this instance should actually advertise:
// the primary always advertises its full set; a secondary withholds
// broadcasting until it has observed the primary, then advertises only
// facilities the primary does not already offer.
func (m *Manager) EffectiveFacilities() (Facilities, bool) {
	if m.classification.Instance == 0 {
		return m.facilities, true
	}
	if !m.primaryObserved {
		return Facilities{}, false
	}
	return Difference(m.facilities, m.primaryFacilities), true
}

func (m *Manager) handlePeerFacilities(msg frame.Message) {
	if m.classification.Instance == 0 {
		return // primary does not consume other primaries' broadcasts
	}
	f, ok := decodeFacilities(msg.Payload)
	if !ok {
		return
	}
	m.primaryObserved = true
	m.primaryFacilities = f
}

// Update drives the periodic facilities broadcast and the power FSM.
func (m *Manager) Update(elapsed time.Duration) {
	m.Power.Update(elapsed)

	m.broadcastElapsed += elapsed
	if m.broadcastElapsed < m.broadcastInterval {
		return
	}
	m.broadcastElapsed = 0

	f, ok := m.EffectiveFacilities()
	if !ok {
		return
	}
	addr, ok := m.ownAddress()
	if !ok {
		return
	}
	_ = m.net.Send(PGNTractorFacilities, encodeFacilities(f), addr, frame.BroadcastAddress)
}

// encodeFacilities packs the bitmap into bytes for the wire: one bit
// per scalar facility, one byte per aux-valve trio.
func encodeFacilities(f Facilities) []byte {
	scalars := []bool{
		f.RearHitchPosition, f.RearHitchPositionCommand, f.RearHitchLimitStatus,
		f.RearPTOSpeed, f.RearPTOSpeedCommand, f.RearPTOEngagementCommand,
		f.FrontHitchPosition, f.FrontHitchPositionCommand, f.FrontHitchLimitStatus,
		f.FrontPTOSpeed, f.FrontPTOSpeedCommand, f.FrontPTOEngagementCommand,
		f.WheelBasedSpeed, f.GroundBasedSpeed, f.WheelBasedDistance, f.GroundBasedDistance,
		f.SpeedDirection, f.RearDraft, f.RearDraftLimitStatus, f.Lighting,
		f.Navigation, f.Guidance, f.GuidanceCommand, f.MotionInitiation, f.PowertrainControl,
	}
	nScalarBytes := (len(scalars) + 7) / 8
	out := make([]byte, nScalarBytes+len(f.AuxValves))
	for i, b := range scalars {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	for i, av := range f.AuxValves {
		var b byte
		if av.Flow {
			b |= 1
		}
		if av.Command {
			b |= 2
		}
		if av.LimitStatus {
			b |= 4
		}
		out[nScalarBytes+i] = b
	}
	return out
}

func decodeFacilities(data []byte) (Facilities, bool) {
	scalarCount := 25
	nScalarBytes := (scalarCount + 7) / 8
	if len(data) < nScalarBytes+auxValveCount {
		return Facilities{}, false
	}
	bit := func(i int) bool { return data[i/8]&(1<<uint(i%8)) != 0 }
	var f Facilities
	f.RearHitchPosition = bit(0)
	f.RearHitchPositionCommand = bit(1)
	f.RearHitchLimitStatus = bit(2)
	f.RearPTOSpeed = bit(3)
	f.RearPTOSpeedCommand = bit(4)
	f.RearPTOEngagementCommand = bit(5)
	f.FrontHitchPosition = bit(6)
	f.FrontHitchPositionCommand = bit(7)
	f.FrontHitchLimitStatus = bit(8)
	f.FrontPTOSpeed = bit(9)
	f.FrontPTOSpeedCommand = bit(10)
	f.FrontPTOEngagementCommand = bit(11)
	f.WheelBasedSpeed = bit(12)
	f.GroundBasedSpeed = bit(13)
	f.WheelBasedDistance = bit(14)
	f.GroundBasedDistance = bit(15)
	f.SpeedDirection = bit(16)
	f.RearDraft = bit(17)
	f.RearDraftLimitStatus = bit(18)
	f.Lighting = bit(19)
	f.Navigation = bit(20)
	f.Guidance = bit(21)
	f.GuidanceCommand = bit(22)
	f.MotionInitiation = bit(23)
	f.PowertrainControl = bit(24)
	for i := 0; i < auxValveCount; i++ {
		b := data[nScalarBytes+i]
		f.AuxValves[i] = AuxValve{Flow: b&1 != 0, Command: b&2 != 0, LimitStatus: b&4 != 0}
	}
	return f, true
}
