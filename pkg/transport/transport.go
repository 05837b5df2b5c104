// Package transport implements the SAE J1939-21 Transport Protocol
// (BAM, RTS/CTS) and the ISO 11783-3 Extended Transport Protocol:
// phase-keyed session state machines, abort-with-reason codes, and a
// sequence-number-validating receive loop, all
// generalized from a single SDO client/server pair to a table of
// concurrent sessions keyed by (source, destination, PGN).
package transport

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/internal/fifo"
	"github.com/isobusgo/isostack/pkg/config"
	"github.com/isobusgo/isostack/pkg/event"
	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// Standard PGNs for the two transport families.
const (
	PGNTPConnManagement uint32 = 0xEC00 // TP.CM
	PGNTPData           uint32 = 0xEB00 // TP.DT
	PGNETPConnManagement uint32 = 0xC800 // ETP.CM
	PGNETPData           uint32 = 0xC700 // ETP.DT
)

// TP.CM control bytes.
const (
	cmBAM         uint8 = 0x20
	cmRTS         uint8 = 0x10
	cmCTS         uint8 = 0x11
	cmEndOfMsgAck uint8 = 0x13
	cmAbort       uint8 = 0xFF
)

// ETP.CM control bytes.
const (
	etpRTS         uint8 = 0x14
	etpCTS         uint8 = 0x15
	etpDPO         uint8 = 0x16
	etpEndOfMsgAck uint8 = 0x17
	etpAbort       uint8 = 0xFF
)

// AbortReason mirrors SAE J1939-21 connection-abort reason codes.
type AbortReason uint8

const (
	AbortAlreadyInUse       AbortReason = 1
	AbortNoResources        AbortReason = 2
	AbortTimeout            AbortReason = 3
	AbortCTSWhileSending    AbortReason = 4
	AbortMaxRetransmit      AbortReason = 5
	AbortUnexpectedDataXfer AbortReason = 6
	AbortBadSequenceNumber  AbortReason = 7
	AbortDuplicateSequence  AbortReason = 8
	AbortTotalSizeMismatch  AbortReason = 9
	AbortOther              AbortReason = 250
)

var abortDescriptions = map[AbortReason]string{
	AbortAlreadyInUse:       "connection already managed for this PGN",
	AbortNoResources:        "insufficient resources for this session",
	AbortTimeout:            "a timeout occurred and the session was terminated",
	AbortCTSWhileSending:    "CTS received while data transfer in progress",
	AbortMaxRetransmit:      "maximum retransmit request limit reached",
	AbortUnexpectedDataXfer: "unexpected data transfer packet",
	AbortBadSequenceNumber:  "bad sequence number",
	AbortDuplicateSequence:  "duplicate sequence number",
	AbortTotalSizeMismatch:  "total message size does not match announced size",
	AbortOther:              "unspecified error",
}

func (r AbortReason) Error() string { return fmt.Sprintf("transport: abort (%d) %s", uint8(r), r.Description()) }

func (r AbortReason) Description() string {
	if d, ok := abortDescriptions[r]; ok {
		return d
	}
	return abortDescriptions[AbortOther]
}

// sessionState tracks one (source,destination,PGN) transport session.
type sessionState uint8

const (
	stateIdle sessionState = iota
	stateAwaitingCTS
	stateSending
	stateReceiving
	stateComplete
	stateAborted
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaitingCTS:
		return "awaiting_cts"
	case stateSending:
		return "sending"
	case stateReceiving:
		return "receiving"
	case stateComplete:
		return "complete"
	case stateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

const segmentSize = 7

// sessionKey identifies one TP/ETP session.
type sessionKey struct {
	source      uint8
	destination uint8
	pgn         uint32
}

// session is one direction of segmented transfer.
type session struct {
	key      sessionKey
	extended bool   // ETP (>1785 bytes) instead of standard TP
	mode     string // "bam" or "cm"

	state sessionState

	totalSize    uint32
	totalPackets uint32
	nextSeq      uint32 // next expected (receive) / next to send (send)
	windowSize   uint8  // CTS-granted packets per burst, CM only
	sentInBurst  uint8

	payload []byte    // sender side: the full outbound payload
	recvBuf *fifo.Fifo // receiver side: reassembly buffer

	idleSince   time.Duration // time since last activity, for timeout checks
	bamInterval time.Duration // BAM-only: countdown to next data packet

	sending bool // true if this node is the data sender
}

func newSession(key sessionKey, totalSize uint32, sending, extended bool, mode string) *session {
	totalPackets := (int(totalSize) + segmentSize - 1) / segmentSize
	s := &session{
		key:          key,
		extended:     extended,
		mode:         mode,
		state:        stateIdle,
		totalSize:    totalSize,
		totalPackets: uint32(totalPackets),
		sending:      sending,
	}
	if sending {
		s.payload = make([]byte, 0, totalSize)
	} else {
		// The ring distinguishes full from empty by keeping one slot
		// free, so size it one past the payload.
		s.recvBuf = fifo.NewFifo(int(totalSize) + 1)
	}
	return s
}

// Manager owns the TP/ETP session table. It implements
// network.TransportSessions structurally (HandleFrame/Update/Send).
type Manager struct {
	mu sync.Mutex

	log    *logrus.Entry
	bus    frame.Bus
	timers config.Timers

	sessions map[sessionKey]*session

	completed *event.Subscribers[CompletedTransfer]
	aborted   *event.Subscribers[AbortedTransfer]
}

// CompletedTransfer is emitted when a multi-packet payload has been
// fully reassembled (receive side) or fully transmitted (send side).
type CompletedTransfer struct {
	Source      uint8
	Destination uint8
	PGN         uint32
	Payload     []byte // populated on the receive side only
}

// AbortedTransfer is emitted whenever a session aborts.
type AbortedTransfer struct {
	Source      uint8
	Destination uint8
	PGN         uint32
	Reason      AbortReason
}

// Bind wires m into net both ways: net routes TP/ETP frames into m,
// and m hands reassembled payloads back to net's PGN dispatch table so
// subscribers see a multi-packet message the same way they see a
// single-frame one.
func Bind(net *network.Manager, m *Manager) {
	net.SetTransportSessions(m)
	m.OnCompleted(func(c CompletedTransfer) {
		if c.Payload == nil {
			return // send-side completion; nothing to dispatch
		}
		net.InjectMessage(frame.Message{
			PGN:         c.PGN,
			Source:      c.Source,
			Destination: c.Destination,
			Payload:     c.Payload,
		})
	})
}

// NewManager constructs a transport Manager bound to bus.
func NewManager(bus frame.Bus, timers config.Timers) *Manager {
	return &Manager{
		log:       logrus.WithField("component", "transport"),
		bus:       bus,
		timers:    timers,
		sessions:  make(map[sessionKey]*session),
		completed: event.NewSubscribers[CompletedTransfer](),
		aborted:   event.NewSubscribers[AbortedTransfer](),
	}
}

// OnCompleted registers a callback fired when a session finishes
// successfully.
func (m *Manager) OnCompleted(fn func(CompletedTransfer)) event.Handle {
	return m.completed.Subscribe(fn)
}

// OnAborted registers a callback fired when a session aborts.
func (m *Manager) OnAborted(fn func(AbortedTransfer)) event.Handle {
	return m.aborted.Subscribe(fn)
}

// Send begins sending payload from source to destination under pgn.
// Starting a session on a busy (source, destination, pgn) triple
// aborts the prior session first.
func (m *Manager) Send(priority uint8, pgn uint32, payload []byte, source, destination uint8) error {
	key := sessionKey{source: source, destination: destination, pgn: pgn}

	m.mu.Lock()
	if old, exists := m.sessions[key]; exists {
		m.abortLocked(old, AbortAlreadyInUse)
	}
	extended := len(payload) > 1785
	mode := "cm"
	if destination == frame.BroadcastAddress {
		mode = "bam"
	}
	s := newSession(key, uint32(len(payload)), true, extended, mode)
	s.payload = append(s.payload, payload...)
	m.sessions[key] = s
	m.mu.Unlock()

	if mode == "bam" {
		s.state = stateSending
		s.nextSeq = 1
		s.bamInterval = 0 // send first data packet on the very next Update
		return m.sendBAMAnnounce(priority, s)
	}
	s.state = stateAwaitingCTS
	return m.sendRTS(priority, s)
}

func (m *Manager) sendBAMAnnounce(priority uint8, s *session) error {
	payload := make([]byte, 8)
	payload[0] = cmBAM
	binary.LittleEndian.PutUint16(payload[1:3], uint16(s.totalSize))
	payload[3] = byte(s.totalPackets)
	payload[4] = 0xFF
	putUint24LE(payload[5:], s.key.pgn)
	return m.sendCM(priority, s.key, payload)
}

func (m *Manager) sendRTS(priority uint8, s *session) error {
	if s.extended {
		payload := make([]byte, 8)
		payload[0] = etpRTS
		binary.LittleEndian.PutUint32(payload[1:5], s.totalSize)
		putUint24LE(payload[5:], s.key.pgn)
		return m.sendETPCM(priority, s.key, payload)
	}
	payload := make([]byte, 8)
	payload[0] = cmRTS
	binary.LittleEndian.PutUint16(payload[1:3], uint16(s.totalSize))
	payload[3] = byte(s.totalPackets)
	payload[4] = 0xFF // max packets per CTS, no preference
	putUint24LE(payload[5:], s.key.pgn)
	return m.sendCM(priority, s.key, payload)
}

func (m *Manager) sendCM(priority uint8, key sessionKey, payload []byte) error {
	f, err := frame.FromMessage(priority, PGNTPConnManagement, key.source, key.destination, payload)
	if err != nil {
		return err
	}
	return m.sendFrame(f)
}

func (m *Manager) sendETPCM(priority uint8, key sessionKey, payload []byte) error {
	f, err := frame.FromMessage(priority, PGNETPConnManagement, key.source, key.destination, payload)
	if err != nil {
		return err
	}
	return m.sendFrame(f)
}

func (m *Manager) sendFrame(f frame.Frame) error {
	if m.bus == nil {
		return nil
	}
	return m.bus.Send(f)
}

func putUint24LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
}

func readUint24LE(src []byte) uint32 {
	return uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16
}
