// Package network implements SAE J1939-81 network management: the
// address-claim state machine, control function bookkeeping, and the
// PGN dispatch table, with one claim FSM per
// control function.
package network

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/config"
	"github.com/isobusgo/isostack/pkg/event"
	"github.com/isobusgo/isostack/pkg/frame"
)

// Standard PGNs used by the network manager itself.
const (
	PGNRequest         uint32 = 0xEA00
	PGNAcknowledgment  uint32 = 0xE800
	PGNAddressClaimed  uint32 = 0xEE00
)

// Acknowledgment control-byte values (PGN 0xE800).
const (
	AckPositive      uint8 = 0
	AckNegative      uint8 = 1
	AckAccessDenied  uint8 = 2
	AckCannotRespond uint8 = 3
)

const defaultPriority uint8 = 6

// SubscriptionHandle cancels a PGN subscription registered with
// RegisterPGNCallback.
type SubscriptionHandle struct {
	pgn    uint32
	handle event.Handle
	mgr    *Manager
}

// Cancel removes the subscription. The subscriber is guaranteed not to
// be invoked again, even if Cancel is called from within another
// subscriber's callback during dispatch.
func (h SubscriptionHandle) Cancel() {
	h.mgr.mu.Lock()
	subs, ok := h.mgr.pgnSubs[h.pgn]
	h.mgr.mu.Unlock()
	if !ok {
		return
	}
	subs.Unsubscribe(h.handle)
}

// TransportSessions is the seam between the network manager and the
// transport protocol (pkg/transport), kept as a locally-declared
// interface so this package never imports pkg/transport (transport
// imports network, not the other way round): transport.Manager
// satisfies this structurally. HandleFrame reports whether msg was
// consumed by an active transport session (it should not also be
// PGN-dispatched in that case).
type TransportSessions interface {
	HandleFrame(msg frame.Message) bool
	Update(elapsed time.Duration)
	Send(priority uint8, pgn uint32, payload []byte, source, destination uint8) error
}

// Manager owns the set of control functions on one bus, the PGN
// dispatch table, and the address-claim machinery.
type Manager struct {
	mu  sync.Mutex
	log *logrus.Entry

	bus     frame.Bus
	timers  config.Timers
	now     time.Time
	started bool

	internal  map[NAME]*ControlFunction
	external  map[NAME]*ControlFunction
	byAddress map[uint8]*ControlFunction

	pgnSubs   map[uint32]*event.Subscribers[frame.Message]
	supported map[uint32]bool

	pending []frame.Frame

	transport TransportSessions
}

// NewManager constructs a Manager bound to bus, using the given
// protocol timers (config.DefaultTimers() if the caller has none
// customized).
func NewManager(bus frame.Bus, timers config.Timers) *Manager {
	m := &Manager{
		log:       logrus.WithField("component", "network"),
		bus:       bus,
		timers:    timers,
		now:       time.Time{},
		internal:  make(map[NAME]*ControlFunction),
		external:  make(map[NAME]*ControlFunction),
		byAddress: make(map[uint8]*ControlFunction),
		pgnSubs:   make(map[uint32]*event.Subscribers[frame.Message]),
		supported: make(map[uint32]bool),
	}
	if bus != nil {
		_ = bus.Subscribe(m)
	}
	return m
}

// SetTransportSessions wires the transport protocol coordinator used
// for payloads larger than a single frame. Must be called before Send
// is used with payloads over 8 bytes.
func (m *Manager) SetTransportSessions(ts TransportSessions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = ts
}

// Handle implements frame.FrameListener: frames are queued and
// processed in Update, preserving FIFO order within a tick.
func (m *Manager) Handle(f frame.Frame) {
	m.mu.Lock()
	m.pending = append(m.pending, f)
	m.mu.Unlock()
}

// CreateInternal begins the address-claim procedure for a new internal
// control function. The returned handle tracks claim progress via
// OnStateChange.
func (m *Manager) CreateInternal(name NAME, preferred uint8) (*ControlFunction, error) {
	m.mu.Lock()
	if _, exists := m.internal[name]; exists {
		m.mu.Unlock()
		return nil, ErrAddressClaimFailed
	}
	cf := newControlFunction(name, preferred, true)
	m.internal[name] = cf
	m.mu.Unlock()

	m.beginClaim(cf, preferred)
	return cf, nil
}

// beginClaim drives Unclaimed -> ClaimingWait: broadcast a request for
// address claim (to learn any existing claims), then announce our own
// preferred address and start the 250ms claim window.
func (m *Manager) beginClaim(cf *ControlFunction, addr uint8) {
	m.sendRequestForAddressClaim(addr)
	m.sendAddressClaim(cf, addr)

	cf.mu.Lock()
	cf.claiming = addr
	cf.claimWindow = m.timers.AddressClaimWindow
	cf.mu.Unlock()

	cf.sm.Transition(StateClaimingWait)
}

func (m *Manager) sendRequestForAddressClaim(fromAddr uint8) {
	payload := make([]byte, 3)
	putUint24LE(payload, PGNAddressClaimed)
	f, err := frame.FromMessage(6, PGNRequest, fromAddr, frame.BroadcastAddress, payload)
	if err != nil {
		return
	}
	_ = m.SendFrame(f)
}

func (m *Manager) sendAddressClaim(cf *ControlFunction, addr uint8) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(cf.name))
	f, err := frame.FromMessage(6, PGNAddressClaimed, addr, frame.BroadcastAddress, payload)
	if err != nil {
		return
	}
	_ = m.SendFrame(f)
}

func (m *Manager) sendCannotClaim(cf *ControlFunction) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(cf.name))
	f, err := frame.FromMessage(6, PGNAddressClaimed, frame.NullAddress, frame.BroadcastAddress, payload)
	if err != nil {
		return
	}
	_ = m.SendFrame(f)
}

// Release moves an internal control function from Claimed back to
// Unclaimed, freeing its address. Transport sessions it participates
// in are not cancelled here; they end only through their own timeouts
// or aborts.
func (m *Manager) Release(cf *ControlFunction) {
	m.mu.Lock()
	if addr, ok := cf.Address(); ok {
		delete(m.byAddress, addr)
	}
	m.mu.Unlock()

	cf.clearAddress()
	cf.sm.Transition(StateUnclaimed)
}

// Retry restarts the claim procedure for a control function in
// StateFailed. It is a no-op from any other state.
func (m *Manager) Retry(cf *ControlFunction) {
	if cf.State() != StateFailed {
		return
	}
	cf.sm.Transition(StateUnclaimed)
	m.beginClaim(cf, cf.preferred)
}

// RegisterPGNCallback subscribes fn to every incoming message matching
// pgn, invoked in registration order.
func (m *Manager) RegisterPGNCallback(pgn uint32, fn func(frame.Message)) SubscriptionHandle {
	m.mu.Lock()
	subs, ok := m.pgnSubs[pgn]
	if !ok {
		subs = event.NewSubscribers[frame.Message]()
		m.pgnSubs[pgn] = subs
	}
	m.supported[pgn] = true
	m.mu.Unlock()

	h := subs.Subscribe(fn)
	return SubscriptionHandle{pgn: pgn, handle: h, mgr: m}
}

// Send transmits a payload from the control function currently holding
// address `from`. Payloads of 8 bytes or fewer go out as a single
// frame; larger payloads are handed to the transport coordinator.
func (m *Manager) Send(pgn uint32, payload []byte, from, to uint8) error {
	return m.SendPriority(defaultPriority, pgn, payload, from, to)
}

// SendPriority is Send with an explicit CAN priority field.
func (m *Manager) SendPriority(priority uint8, pgn uint32, payload []byte, from, to uint8) error {
	m.mu.Lock()
	cf, claimed := m.byAddress[from]
	m.mu.Unlock()
	if !claimed || cf.State() != StateClaimed {
		return ErrNotClaimed
	}

	if len(payload) <= 8 {
		f, err := frame.FromMessage(priority, pgn, from, to, payload)
		if err != nil {
			return err
		}
		return m.SendFrame(f)
	}

	m.mu.Lock()
	ts := m.transport
	m.mu.Unlock()
	if ts == nil {
		return ErrNoTransport
	}
	if err := ts.Send(priority, pgn, payload, from, to); err != nil {
		return ErrTransportFailure
	}
	return nil
}

// SendFrame passes a raw frame straight to the CAN driver, for test
// harnesses and the NIU.
func (m *Manager) SendFrame(f frame.Frame) error {
	m.mu.Lock()
	bus := m.bus
	m.mu.Unlock()
	if bus == nil {
		return nil
	}
	if err := bus.Send(f); err != nil {
		return ErrBusError
	}
	return nil
}

// InjectMessage delivers a fully decoded message straight to PGN
// subscribers, bypassing the framer. transport.Bind uses it to hand
// reassembled multi-packet payloads to subscribers; tests use it too.
func (m *Manager) InjectMessage(msg frame.Message) {
	m.dispatch(msg)
}

// ResolveAddress returns the current address of a NAME known to this
// manager (internal or external), used by components (e.g. the NIU)
// that must resolve a NAME-based filter predicate to an address.
func (m *Manager) ResolveAddress(name NAME) (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cf, ok := m.internal[name]; ok {
		return cf.Address()
	}
	if cf, ok := m.external[name]; ok {
		return cf.Address()
	}
	return 0, false
}

// Update advances claim timers, transport session timers, and
// dispatches any frames received since the last call, in that order.
// Timers run first so a timeout observed during one tick cannot race
// with a late packet delivered in the same tick.
func (m *Manager) Update(elapsed time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(elapsed)
	ts := m.transport
	m.mu.Unlock()

	m.advanceClaimTimers(elapsed)

	if ts != nil {
		ts.Update(elapsed)
	}

	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, f := range pending {
		m.processFrame(f)
	}
}

func (m *Manager) advanceClaimTimers(elapsed time.Duration) {
	m.mu.Lock()
	waiting := make([]*ControlFunction, 0, len(m.internal))
	for _, cf := range m.internal {
		if cf.State() == StateClaimingWait {
			waiting = append(waiting, cf)
		}
	}
	m.mu.Unlock()

	for _, cf := range waiting {
		cf.mu.Lock()
		cf.claimWindow -= elapsed
		expired := cf.claimWindow <= 0
		addr := cf.claiming
		cf.mu.Unlock()
		if !expired {
			continue
		}
		m.finalizeClaim(cf, addr)
	}
}

func (m *Manager) finalizeClaim(cf *ControlFunction, addr uint8) {
	m.mu.Lock()
	m.byAddress[addr] = cf
	m.mu.Unlock()
	cf.setAddress(addr)
	cf.sm.Transition(StateClaimed)
}

func (m *Manager) processFrame(f frame.Frame) {
	msg := frame.MessageFromFrame(f, m.now)

	m.mu.Lock()
	ts := m.transport
	m.mu.Unlock()
	if ts != nil && ts.HandleFrame(msg) {
		return
	}

	switch msg.PGN {
	case PGNAddressClaimed:
		m.handleAddressClaimed(msg)
	case PGNRequest:
		m.handleRequest(msg)
	}

	m.dispatch(msg)
}

func (m *Manager) dispatch(msg frame.Message) {
	m.mu.Lock()
	subs := m.pgnSubs[msg.PGN]
	m.mu.Unlock()
	if subs != nil {
		subs.Emit(msg)
	}
}

func (m *Manager) handleAddressClaimed(msg frame.Message) {
	if len(msg.Payload) < 8 {
		return
	}
	claimantName := NAME(binary.LittleEndian.Uint64(msg.Payload))
	src := msg.Source

	m.mu.Lock()
	ext, ok := m.external[claimantName]
	if !ok {
		ext = newControlFunction(claimantName, src, false)
		m.external[claimantName] = ext
	}
	m.mu.Unlock()
	if src != frame.NullAddress {
		m.mu.Lock()
		m.byAddress[src] = ext
		m.mu.Unlock()
		ext.setAddress(src)
	}

	m.mu.Lock()
	affected := make([]*ControlFunction, 0, len(m.internal))
	for _, cf := range m.internal {
		addr, ok := cf.Address()
		claimingAddr := cf.claimingAddress()
		if cf.name == claimantName {
			continue
		}
		if (ok && addr == src) || (cf.State() == StateClaimingWait && claimingAddr == src) {
			affected = append(affected, cf)
		}
	}
	m.mu.Unlock()

	for _, cf := range affected {
		if claimantName.Less(cf.name) {
			m.yieldContention(cf)
		} else if cf.State() == StateClaimed {
			addr, _ := cf.Address()
			m.sendAddressClaim(cf, addr)
		}
	}
}

func (cf *ControlFunction) claimingAddress() uint8 {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.claiming
}

func (m *Manager) yieldContention(cf *ControlFunction) {
	if addr, ok := cf.Address(); ok {
		m.mu.Lock()
		// The winning claimant may already hold this slot; only drop
		// the entry if it still points at the yielding function.
		if m.byAddress[addr] == cf {
			delete(m.byAddress, addr)
		}
		m.mu.Unlock()
	}
	cf.clearAddress()
	cf.sm.Transition(StateContending)
	m.processContention(cf)
}

func (m *Manager) processContention(cf *ControlFunction) {
	if cf.name.ArbitraryAddressCapable() {
		if addr, ok := m.nextDynamicAddress(); ok {
			m.beginClaim(cf, addr)
			return
		}
	}
	m.sendCannotClaim(cf)
	cf.sm.Transition(StateFailed)
}

func (m *Manager) nextDynamicAddress() (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr := m.timers.DynamicRangeLow; addr <= m.timers.DynamicRangeHigh; addr++ {
		if _, taken := m.byAddress[addr]; !taken {
			return addr, true
		}
		if addr == m.timers.DynamicRangeHigh {
			break
		}
	}
	return 0, false
}

func (m *Manager) handleRequest(msg frame.Message) {
	if len(msg.Payload) < 3 {
		return
	}
	requested := readUint24LE(msg.Payload)

	if requested == PGNAddressClaimed {
		m.mu.Lock()
		claimed := make([]*ControlFunction, 0, len(m.internal))
		for _, cf := range m.internal {
			if cf.State() == StateClaimed {
				claimed = append(claimed, cf)
			}
		}
		m.mu.Unlock()
		for _, cf := range claimed {
			addr, _ := cf.Address()
			m.sendAddressClaim(cf, addr)
		}
		return
	}

	m.mu.Lock()
	ok := m.supported[requested]
	m.mu.Unlock()
	if ok {
		return
	}

	// No component registered for this PGN: NACK the request.
	m.mu.Lock()
	var responder *ControlFunction
	for _, cf := range m.internal {
		if cf.State() == StateClaimed {
			responder = cf
			break
		}
	}
	m.mu.Unlock()
	if responder == nil {
		return
	}
	addr, _ := responder.Address()
	m.sendAcknowledgment(addr, msg.Source, AckNegative, requested)
}

func (m *Manager) sendAcknowledgment(from, to uint8, control uint8, pgn uint32) {
	payload := make([]byte, 8)
	payload[0] = control
	payload[1] = 0xFF
	payload[2] = 0xFF
	payload[3] = 0xFF
	putUint24LE(payload[4:], pgn)
	payload[7] = 0xFF
	f, err := frame.FromMessage(6, PGNAcknowledgment, from, to, payload)
	if err != nil {
		return
	}
	_ = m.SendFrame(f)
}

func putUint24LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
}

func readUint24LE(src []byte) uint32 {
	return uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16
}
