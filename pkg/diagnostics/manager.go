package diagnostics

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/event"
	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// Standard diagnostic PGNs.
const (
	PGNDM1  uint32 = 0xFECA
	PGNDM2  uint32 = 0xFECB
	PGNDM3  uint32 = 0xFECC
	PGNDM5  uint32 = 0xFED5
	PGNDM11 uint32 = 0xFED3
	PGNDM13 uint32 = 0xFED4
	PGNDM20 uint32 = 0xC200
	PGNDM22 uint32 = 0xC300
	PGNDM25 uint32 = 0xD600
)

const indefiniteSuspend = 0xFFFF

// ClearEvent is emitted for every DM22 directed-clear attempt,
// successful or not.
type ClearEvent struct {
	SPN     uint32
	FMI     uint8
	Cleared bool
}

// PerformanceRatio is one DM20 SPN monitor ratio plus the shared
// global counters, saturating at 65535.
type PerformanceRatio struct {
	SPN         uint32
	Numerator   uint16
	Denominator uint16
}

// Manager owns one station's DTC table, DM1/DM2 broadcast suspension
// timers, and performance ratios, wiring them to the network PGN
// dispatch table.
type Manager struct {
	log *logrus.Entry
	net *network.Manager

	source func() (uint8, bool) // resolves this station's own claimed address

	table *Table

	dm1Interval time.Duration
	dm1Elapsed  time.Duration
	dm1Suspended bool
	dm1ResumeIn  time.Duration // 0 = not scheduled; indefinite suspends never set this

	dm2Suspended bool
	dm2ResumeIn  time.Duration

	ratios           map[uint32]*PerformanceRatio
	observed         map[uint8]ObservedRatios
	ignitionCycles   uint16
	obdConditionsMet uint16

	clearEvents *event.Subscribers[ClearEvent]
}

// NewManager constructs a diagnostics Manager. source resolves the
// station's own address at send time (it may not be claimed yet).
func NewManager(net *network.Manager, table *Table, dm1Interval time.Duration, source func() (uint8, bool)) *Manager {
	m := &Manager{
		log:         logrus.WithField("component", "diagnostics"),
		net:         net,
		source:      source,
		table:       table,
		dm1Interval: dm1Interval,
		ratios:      make(map[uint32]*PerformanceRatio),
		observed:    make(map[uint8]ObservedRatios),
		clearEvents: event.NewSubscribers[ClearEvent](),
	}
	m.wire()
	return m
}

func (m *Manager) wire() {
	// Mark every DM PGN this station answers as supported, so an
	// unrelated Request for one of them does not get NACKed by the
	// network manager before we get a chance to answer it ourselves.
	for _, pgn := range []uint32{PGNDM2, PGNDM3, PGNDM5, PGNDM11, PGNDM20, PGNDM25} {
		m.net.RegisterPGNCallback(pgn, func(frame.Message) {})
	}
	m.net.RegisterPGNCallback(network.PGNRequest, m.handleRequest)
	m.net.RegisterPGNCallback(PGNDM13, m.handleDM13)
	m.net.RegisterPGNCallback(PGNDM22, m.handleDM22)
	m.net.RegisterPGNCallback(PGNDM20, m.handleDM20Observed)
}

// OnClear registers a callback fired on every DM22 clear attempt.
func (m *Manager) OnClear(fn func(ClearEvent)) event.Handle {
	return m.clearEvents.Subscribe(fn)
}

// SetActive records a newly (or still) active DTC, optionally
// capturing a freeze frame.
func (m *Manager) SetActive(spn uint32, fmi uint8, capture []SPNValue, timestamp uint64) DTC {
	return m.table.SetActive(spn, fmi, capture, timestamp)
}

// ClearActive moves a DTC from active to previously-active.
func (m *Manager) ClearActive(spn uint32, fmi uint8) bool {
	return m.table.ClearActive(spn, fmi)
}

// RecordPerformance updates one SPN's monitor ratio, saturating both
// numerator and denominator at 65535.
func (m *Manager) RecordPerformance(spn uint32, numeratorInc, denominatorInc uint16) {
	r, ok := m.ratios[spn]
	if !ok {
		r = &PerformanceRatio{SPN: spn}
		m.ratios[spn] = r
	}
	r.Numerator = saturatingAdd(r.Numerator, numeratorInc)
	r.Denominator = saturatingAdd(r.Denominator, denominatorInc)
}

func saturatingAdd(v, inc uint16) uint16 {
	if uint32(v)+uint32(inc) > 0xFFFF {
		return 0xFFFF
	}
	return v + inc
}

// Update drives the DM1/DM2 broadcast timers: auto-send of DM1 at
// dm1Interval, and expiry of DM13 suspension windows.
func (m *Manager) Update(elapsed time.Duration) {
	if m.dm1Suspended {
		if m.dm1ResumeIn > 0 {
			m.dm1ResumeIn -= elapsed
			if m.dm1ResumeIn <= 0 {
				m.dm1Suspended = false
			}
		}
	} else {
		m.dm1Elapsed += elapsed
		if m.dm1Elapsed >= m.dm1Interval {
			m.dm1Elapsed = 0
			m.sendDM1()
		}
	}

	if m.dm2Suspended && m.dm2ResumeIn > 0 {
		m.dm2ResumeIn -= elapsed
		if m.dm2ResumeIn <= 0 {
			m.dm2Suspended = false
		}
	}
}

func (m *Manager) ownAddress() (uint8, bool) {
	return m.source()
}

func (m *Manager) sendDM1() {
	addr, ok := m.ownAddress()
	if !ok {
		return
	}
	payload := encodeDTCList(m.table.LampStatus(), m.table.Active())
	_ = m.net.Send(PGNDM1, payload, addr, frame.BroadcastAddress)
}

func encodeDTCList(lamps LampStatus, dtcs []DTC) []byte {
	lampBytes := EncodeLampStatus(lamps)
	out := append([]byte{}, lampBytes[0], lampBytes[1])
	for _, d := range dtcs {
		b := EncodeDTC(d)
		out = append(out, b[0], b[1], b[2], b[3])
	}
	if len(out) == 2 {
		// No DTCs: J1939-73 still requires the 4-byte "no DTC" filler.
		out = append(out, 0x00, 0x00, 0x00, 0x00)
	}
	return out
}

func (m *Manager) handleRequest(msg frame.Message) {
	if len(msg.Payload) < 3 {
		return
	}
	requested := uint32(msg.Payload[0]) | uint32(msg.Payload[1])<<8 | uint32(msg.Payload[2])<<16
	addr, ok := m.ownAddress()
	if !ok {
		return
	}

	switch requested {
	case PGNDM2:
		payload := encodeDTCList(m.table.LampStatus(), m.table.PreviouslyActive())
		_ = m.net.Send(PGNDM2, payload, addr, msg.Source)
	case PGNDM3:
		m.table.ClearAllPreviouslyActive()
	case PGNDM5:
		_ = m.net.Send(PGNDM5, m.encodeDM5(), addr, msg.Source)
	case PGNDM11:
		m.table.ClearAllActive()
	case PGNDM20:
		_ = m.net.Send(PGNDM20, m.encodeDM20(), addr, msg.Source)
	case PGNDM25:
		_ = m.net.Send(PGNDM25, m.encodeDM25(), addr, msg.Source)
	}
}

// encodeDM5 reports the number of active/previously-active DTCs plus a
// fixed protocol-support bitmask (this station supports J1939-73).
func (m *Manager) encodeDM5() []byte {
	active := len(m.table.Active())
	prev := len(m.table.PreviouslyActive())
	b := make([]byte, 8)
	b[0] = clampByte(active)
	b[1] = clampByte(prev)
	b[2] = 0x05 // supports J1939-73 diagnostics over this PGN set
	for i := 3; i < 8; i++ {
		b[i] = 0xFF
	}
	return b
}

func clampByte(v int) byte {
	if v > 0xFE {
		return 0xFE
	}
	return byte(v)
}

// BeginIgnitionCycle increments the DM20 global ignition-cycle
// counter, saturating at 65535.
func (m *Manager) BeginIgnitionCycle() {
	m.ignitionCycles = saturatingAdd(m.ignitionCycles, 1)
}

// RecordOBDConditionsMet increments the DM20 global general-monitoring-
// conditions counter, saturating at 65535.
func (m *Manager) RecordOBDConditionsMet() {
	m.obdConditionsMet = saturatingAdd(m.obdConditionsMet, 1)
}

func (m *Manager) encodeDM20() []byte {
	spns := make([]uint32, 0, len(m.ratios))
	for spn := range m.ratios {
		spns = append(spns, spn)
	}
	sort.Slice(spns, func(i, j int) bool { return spns[i] < spns[j] })

	b := make([]byte, 4, 4+7*len(spns))
	binary.LittleEndian.PutUint16(b[0:2], m.ignitionCycles)
	binary.LittleEndian.PutUint16(b[2:4], m.obdConditionsMet)
	for _, spn := range spns {
		r := m.ratios[spn]
		var rec [7]byte
		rec[0] = byte(r.SPN)
		rec[1] = byte(r.SPN >> 8)
		rec[2] = byte(r.SPN >> 16)
		binary.LittleEndian.PutUint16(rec[3:5], r.Numerator)
		binary.LittleEndian.PutUint16(rec[5:7], r.Denominator)
		b = append(b, rec[:]...)
	}
	return b
}

// handleDM20Observed handles an incoming DM20. An empty payload is a
// request and is answered with this station's own DM20; a non-empty
// payload is observed monitor data from another ECU. The last
// observation per source is retained for the caller to inspect.
func (m *Manager) handleDM20Observed(msg frame.Message) {
	if len(msg.Payload) == 0 {
		if addr, ok := m.ownAddress(); ok {
			_ = m.net.Send(PGNDM20, m.encodeDM20(), addr, msg.Source)
		}
		return
	}
	if len(msg.Payload) < 4 {
		return
	}
	var obs ObservedRatios
	obs.Source = msg.Source
	obs.IgnitionCycles = binary.LittleEndian.Uint16(msg.Payload[0:2])
	obs.OBDConditionsMet = binary.LittleEndian.Uint16(msg.Payload[2:4])
	for off := 4; off+7 <= len(msg.Payload); off += 7 {
		obs.Ratios = append(obs.Ratios, PerformanceRatio{
			SPN:         uint32(msg.Payload[off]) | uint32(msg.Payload[off+1])<<8 | uint32(msg.Payload[off+2])<<16,
			Numerator:   binary.LittleEndian.Uint16(msg.Payload[off+3 : off+5]),
			Denominator: binary.LittleEndian.Uint16(msg.Payload[off+5 : off+7]),
		})
	}
	m.observed[msg.Source] = obs
}

// ObservedRatios is the most recent DM20 data received from one peer.
type ObservedRatios struct {
	Source           uint8
	IgnitionCycles   uint16
	OBDConditionsMet uint16
	Ratios           []PerformanceRatio
}

// ObservedFrom returns the last DM20 observation received from source.
func (m *Manager) ObservedFrom(source uint8) (ObservedRatios, bool) {
	obs, ok := m.observed[source]
	return obs, ok
}

func (m *Manager) encodeDM25() []byte {
	dtcs := m.table.Active()
	if len(dtcs) == 0 {
		dtcs = m.table.PreviouslyActive()
	}
	if len(dtcs) == 0 {
		return []byte{0, 0, 0, 0}
	}
	d := dtcs[0]
	ff, ok := m.table.FreezeFrame(d.SPN, d.FMI, 0)
	if !ok {
		return []byte{0, 0, 0, 0}
	}
	dtcBytes := EncodeDTC(ff.DTC)
	out := append([]byte{}, dtcBytes[0], dtcBytes[1], dtcBytes[2], dtcBytes[3])
	for _, s := range ff.Snapshots {
		var sb [7]byte
		sb[0] = byte(s.SPN)
		sb[1] = byte(s.SPN >> 8)
		sb[2] = byte(s.SPN >> 16)
		binary.LittleEndian.PutUint32(sb[3:7], s.Value)
		out = append(out, sb[:]...)
	}
	return out
}

// handleDM13 implements broadcast stop/start: a direct
// (destination-specific) message with independent DM1/DM2 suspend
// timers, 0xFFFF meaning indefinite.
func (m *Manager) handleDM13(msg frame.Message) {
	if len(msg.Payload) < 4 {
		return
	}
	holdSignals := msg.Payload[0]
	suspendSeconds := binary.LittleEndian.Uint16(msg.Payload[2:4])

	// bits 0-1 of byte 0: DM1/DM2/DM13 hold signal state (00 = hold).
	if holdSignals&0x3 == 0 {
		m.dm1Suspended = true
		m.dm1ResumeIn = resumeDuration(suspendSeconds)
	}
	if (holdSignals>>2)&0x3 == 0 {
		m.dm2Suspended = true
		m.dm2ResumeIn = resumeDuration(suspendSeconds)
	}
}

func resumeDuration(seconds uint16) time.Duration {
	if seconds == indefiniteSuspend {
		return 0 // 0 sentinel means "never auto-resume" once dm*Suspended is latched
	}
	return time.Duration(seconds) * time.Second
}

// handleDM22 implements the directed clear-and-acknowledge exchange:
// clear if present, reply Ack or Nack, always emit a ClearEvent.
func (m *Manager) handleDM22(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	addr, ok := m.ownAddress()
	if !ok {
		return
	}
	var dtcBytes [4]byte
	copy(dtcBytes[:], msg.Payload[4:8])
	dtc := DecodeDTC(dtcBytes)

	cleared := m.table.ClearOne(dtc.SPN, dtc.FMI)
	m.clearEvents.Emit(ClearEvent{SPN: dtc.SPN, FMI: dtc.FMI, Cleared: cleared})

	reply := make([]byte, 8)
	if cleared {
		reply[0] = 0x01 // AckClearActiveDTC (control byte, simplified)
	} else {
		reply[0] = 0x02 // NackClearActiveDTC
	}
	copy(reply[4:8], msg.Payload[4:8])
	_ = m.net.Send(PGNDM22, reply, addr, msg.Source)
}
