package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/event"
	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// Manager subscribes to the engine/transmission broadcast PGNs and
// fans each decoded message out to its own observer list, mirroring
// the original's EngineInterface on_* callbacks. It does not own
// engine state itself: a station that only consumes telemetry (e.g.
// an implement ECU reading tractor engine load) never needs to send
// anything, so every Send* method is independent and optional.
type Manager struct {
	log *logrus.Entry
	net *network.Manager

	source func() (uint8, bool)

	eec1Subs            *event.Subscribers[eec1Event]
	eec2Subs            *event.Subscribers[eec2Event]
	eec3Subs            *event.Subscribers[eec3Event]
	engineTemp1Subs     *event.Subscribers[engineTemp1Event]
	engineTemp2Subs     *event.Subscribers[engineTemp2Event]
	engineFluidLPSubs   *event.Subscribers[engineFluidLPEvent]
	engineHoursSubs     *event.Subscribers[engineHoursEvent]
	fuelEconomySubs     *event.Subscribers[fuelEconomyEvent]
	etc1Subs            *event.Subscribers[etc1Event]
	etc2Subs            *event.Subscribers[etc2Event]
	transOilTempSubs    *event.Subscribers[transOilTempEvent]
	cruiseControlSubs   *event.Subscribers[cruiseControlEvent]
	aftertreatment1Subs *event.Subscribers[aftertreatment1Event]
	aftertreatment2Subs *event.Subscribers[aftertreatment2Event]
}

// Each *Event pairs a decoded message with the source address it
// arrived from, matching the original's (const MsgType&, Address src)
// callback shape.
type eec1Event struct {
	Msg    EEC1
	Source uint8
}
type eec2Event struct {
	Msg    EEC2
	Source uint8
}
type eec3Event struct {
	Msg    EEC3
	Source uint8
}
type engineTemp1Event struct {
	Msg    EngineTemp1
	Source uint8
}
type engineTemp2Event struct {
	Msg    EngineTemp2
	Source uint8
}
type engineFluidLPEvent struct {
	Msg    EngineFluidLP
	Source uint8
}
type engineHoursEvent struct {
	Msg    EngineHours
	Source uint8
}
type fuelEconomyEvent struct {
	Msg    FuelEconomy
	Source uint8
}
type etc1Event struct {
	Msg    ETC1
	Source uint8
}
type etc2Event struct {
	Msg    ETC2
	Source uint8
}
type transOilTempEvent struct {
	Msg    TransmissionOilTemp
	Source uint8
}
type cruiseControlEvent struct {
	Msg    CruiseControl
	Source uint8
}
type aftertreatment1Event struct {
	Msg    Aftertreatment1
	Source uint8
}
type aftertreatment2Event struct {
	Msg    Aftertreatment2
	Source uint8
}

// NewManager constructs an engine.Manager and wires its PGN callbacks
// into net. source resolves this station's own claimed address at
// send time, following the same injection pattern as
// diagnostics.NewManager and tecu.NewManager.
func NewManager(net *network.Manager, source func() (uint8, bool)) *Manager {
	m := &Manager{
		log:    logrus.WithField("component", "engine"),
		net:    net,
		source: source,

		eec1Subs:            event.NewSubscribers[eec1Event](),
		eec2Subs:            event.NewSubscribers[eec2Event](),
		eec3Subs:            event.NewSubscribers[eec3Event](),
		engineTemp1Subs:     event.NewSubscribers[engineTemp1Event](),
		engineTemp2Subs:     event.NewSubscribers[engineTemp2Event](),
		engineFluidLPSubs:   event.NewSubscribers[engineFluidLPEvent](),
		engineHoursSubs:     event.NewSubscribers[engineHoursEvent](),
		fuelEconomySubs:     event.NewSubscribers[fuelEconomyEvent](),
		etc1Subs:            event.NewSubscribers[etc1Event](),
		etc2Subs:            event.NewSubscribers[etc2Event](),
		transOilTempSubs:    event.NewSubscribers[transOilTempEvent](),
		cruiseControlSubs:   event.NewSubscribers[cruiseControlEvent](),
		aftertreatment1Subs: event.NewSubscribers[aftertreatment1Event](),
		aftertreatment2Subs: event.NewSubscribers[aftertreatment2Event](),
	}
	m.wire()
	return m
}

func (m *Manager) wire() {
	m.net.RegisterPGNCallback(PGNEEC1, m.handleEEC1)
	m.net.RegisterPGNCallback(PGNEEC2, m.handleEEC2)
	m.net.RegisterPGNCallback(PGNEEC3, m.handleEEC3)
	m.net.RegisterPGNCallback(PGNEngineTemp1, m.handleEngineTemp1)
	m.net.RegisterPGNCallback(PGNEngineTemp2, m.handleEngineTemp2)
	m.net.RegisterPGNCallback(PGNEngineFluidLP, m.handleEngineFluidLP)
	m.net.RegisterPGNCallback(PGNEngineHours, m.handleEngineHours)
	m.net.RegisterPGNCallback(PGNFuelEconomy, m.handleFuelEconomy)
	m.net.RegisterPGNCallback(PGNETC1, m.handleETC1)
	m.net.RegisterPGNCallback(PGNETC2, m.handleETC2)
	m.net.RegisterPGNCallback(PGNTransmissionOilTemp, m.handleTransOilTemp)
	m.net.RegisterPGNCallback(PGNCruiseControl, m.handleCruiseControl)
	m.net.RegisterPGNCallback(PGNAftertreatment1, m.handleAftertreatment1)
	m.net.RegisterPGNCallback(PGNAftertreatment2, m.handleAftertreatment2)
}

func (m *Manager) ownAddress() (uint8, bool) { return m.source() }

// --- observer registration, one per message type ---

func (m *Manager) OnEEC1(fn func(EEC1, uint8)) event.Handle {
	return m.eec1Subs.Subscribe(func(e eec1Event) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnEEC2(fn func(EEC2, uint8)) event.Handle {
	return m.eec2Subs.Subscribe(func(e eec2Event) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnEEC3(fn func(EEC3, uint8)) event.Handle {
	return m.eec3Subs.Subscribe(func(e eec3Event) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnEngineTemp1(fn func(EngineTemp1, uint8)) event.Handle {
	return m.engineTemp1Subs.Subscribe(func(e engineTemp1Event) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnEngineTemp2(fn func(EngineTemp2, uint8)) event.Handle {
	return m.engineTemp2Subs.Subscribe(func(e engineTemp2Event) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnEngineFluidLP(fn func(EngineFluidLP, uint8)) event.Handle {
	return m.engineFluidLPSubs.Subscribe(func(e engineFluidLPEvent) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnEngineHours(fn func(EngineHours, uint8)) event.Handle {
	return m.engineHoursSubs.Subscribe(func(e engineHoursEvent) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnFuelEconomy(fn func(FuelEconomy, uint8)) event.Handle {
	return m.fuelEconomySubs.Subscribe(func(e fuelEconomyEvent) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnETC1(fn func(ETC1, uint8)) event.Handle {
	return m.etc1Subs.Subscribe(func(e etc1Event) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnETC2(fn func(ETC2, uint8)) event.Handle {
	return m.etc2Subs.Subscribe(func(e etc2Event) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnTransmissionOilTemp(fn func(TransmissionOilTemp, uint8)) event.Handle {
	return m.transOilTempSubs.Subscribe(func(e transOilTempEvent) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnCruiseControl(fn func(CruiseControl, uint8)) event.Handle {
	return m.cruiseControlSubs.Subscribe(func(e cruiseControlEvent) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnAftertreatment1(fn func(Aftertreatment1, uint8)) event.Handle {
	return m.aftertreatment1Subs.Subscribe(func(e aftertreatment1Event) { fn(e.Msg, e.Source) })
}
func (m *Manager) OnAftertreatment2(fn func(Aftertreatment2, uint8)) event.Handle {
	return m.aftertreatment2Subs.Subscribe(func(e aftertreatment2Event) { fn(e.Msg, e.Source) })
}

// --- PGN callbacks: decode and fan out ---

func (m *Manager) handleEEC1(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.eec1Subs.Emit(eec1Event{Msg: DecodeEEC1(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleEEC2(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.eec2Subs.Emit(eec2Event{Msg: DecodeEEC2(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleEEC3(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.eec3Subs.Emit(eec3Event{Msg: DecodeEEC3(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleEngineTemp1(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.engineTemp1Subs.Emit(engineTemp1Event{Msg: DecodeEngineTemp1(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleEngineTemp2(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.engineTemp2Subs.Emit(engineTemp2Event{Msg: DecodeEngineTemp2(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleEngineFluidLP(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.engineFluidLPSubs.Emit(engineFluidLPEvent{Msg: DecodeEngineFluidLP(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleEngineHours(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.engineHoursSubs.Emit(engineHoursEvent{Msg: DecodeEngineHours(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleFuelEconomy(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.fuelEconomySubs.Emit(fuelEconomyEvent{Msg: DecodeFuelEconomy(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleETC1(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.etc1Subs.Emit(etc1Event{Msg: DecodeETC1(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleETC2(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.etc2Subs.Emit(etc2Event{Msg: DecodeETC2(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleTransOilTemp(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.transOilTempSubs.Emit(transOilTempEvent{Msg: DecodeTransmissionOilTemp(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleCruiseControl(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.cruiseControlSubs.Emit(cruiseControlEvent{Msg: DecodeCruiseControl(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleAftertreatment1(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.aftertreatment1Subs.Emit(aftertreatment1Event{Msg: DecodeAftertreatment1(msg.Payload), Source: msg.Source})
}
func (m *Manager) handleAftertreatment2(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	m.aftertreatment2Subs.Emit(aftertreatment2Event{Msg: DecodeAftertreatment2(msg.Payload), Source: msg.Source})
}

// --- broadcast helpers, for a station that originates engine/
// transmission telemetry rather than only consuming it ---

func (m *Manager) SendEEC1(v EEC1) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNEEC1, EncodeEEC1(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendEEC2(v EEC2) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNEEC2, EncodeEEC2(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendEEC3(v EEC3) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNEEC3, EncodeEEC3(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendEngineTemp1(v EngineTemp1) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNEngineTemp1, EncodeEngineTemp1(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendEngineTemp2(v EngineTemp2) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNEngineTemp2, EncodeEngineTemp2(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendEngineFluidLP(v EngineFluidLP) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNEngineFluidLP, EncodeEngineFluidLP(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendEngineHours(v EngineHours) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNEngineHours, EncodeEngineHours(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendFuelEconomy(v FuelEconomy) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNFuelEconomy, EncodeFuelEconomy(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendETC1(v ETC1) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNETC1, EncodeETC1(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendETC2(v ETC2) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNETC2, EncodeETC2(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendTransmissionOilTemp(v TransmissionOilTemp) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNTransmissionOilTemp, EncodeTransmissionOilTemp(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendCruiseControl(v CruiseControl) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNCruiseControl, EncodeCruiseControl(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendAftertreatment1(v Aftertreatment1) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNAftertreatment1, EncodeAftertreatment1(v), addr, frame.BroadcastAddress)
}

func (m *Manager) SendAftertreatment2(v Aftertreatment2) error {
	addr, ok := m.ownAddress()
	if !ok {
		return network.ErrNotClaimed
	}
	return m.net.Send(PGNAftertreatment2, EncodeAftertreatment2(v), addr, frame.BroadcastAddress)
}
