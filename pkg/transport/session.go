package transport

import (
	"encoding/binary"
	"time"

	"github.com/isobusgo/isostack/pkg/frame"
)

// HandleFrame is the seam called by network.Manager.processFrame for
// every incoming frame before PGN dispatch. It reports whether the
// frame belonged to an active (or newly created, for BAM/RTS receive)
// transport session, so the caller skips ordinary PGN dispatch for it.
func (m *Manager) HandleFrame(msg frame.Message) bool {
	switch msg.PGN {
	case PGNTPConnManagement:
		return m.handleCM(msg, false)
	case PGNETPConnManagement:
		return m.handleCM(msg, true)
	case PGNTPData:
		return m.handleData(msg, false)
	case PGNETPData:
		return m.handleData(msg, true)
	default:
		return false
	}
}

func (m *Manager) handleCM(msg frame.Message, extended bool) bool {
	if len(msg.Payload) < 8 {
		return true
	}
	control := msg.Payload[0]

	switch {
	case !extended && control == cmBAM:
		m.startReceive(msg, false, "bam")
	case !extended && control == cmRTS:
		m.startReceive(msg, false, "cm")
	case !extended && control == cmCTS:
		m.handleCTS(msg, false)
	case !extended && control == cmEndOfMsgAck:
		m.handleEndOfMsgAck(msg)
	case !extended && control == cmAbort:
		m.handlePeerAbort(msg)
	case extended && control == etpRTS:
		m.startReceive(msg, true, "cm")
	case extended && control == etpCTS:
		m.handleCTS(msg, true)
	case extended && control == etpDPO:
		m.handleDPO(msg)
	case extended && control == etpEndOfMsgAck:
		m.handleEndOfMsgAck(msg)
	case extended && control == etpAbort:
		m.handlePeerAbort(msg)
	}
	return true
}

// reverse swaps source/destination: control replies (CTS, EndOfMsgAck,
// Abort) travel in the opposite direction from the RTS/BAM that opened
// the session, but the session itself stays keyed by the data's
// (source, destination, pgn).
func reverse(key sessionKey) sessionKey {
	return sessionKey{source: key.destination, destination: key.source, pgn: key.pgn}
}

func (m *Manager) startReceive(msg frame.Message, extended bool, mode string) {
	requestedPGN := readUint24LE(msg.Payload[5:8])
	key := sessionKey{source: msg.Source, destination: msg.Destination, pgn: requestedPGN}

	var totalSize uint32
	var totalPackets uint32
	if extended {
		totalSize = binary.LittleEndian.Uint32(msg.Payload[1:5])
		totalPackets = (totalSize + segmentSize - 1) / segmentSize
	} else {
		totalSize = uint32(binary.LittleEndian.Uint16(msg.Payload[1:3]))
		totalPackets = uint32(msg.Payload[3])
	}

	m.mu.Lock()
	if old, exists := m.sessions[key]; exists {
		m.abortLocked(old, AbortAlreadyInUse)
	}
	s := newSession(key, totalSize, false, extended, mode)
	s.totalPackets = totalPackets
	s.state = stateReceiving
	s.nextSeq = 1
	m.sessions[key] = s
	m.mu.Unlock()

	if mode == "cm" {
		m.sendCTSFor(s)
	}
}

func (m *Manager) sendCTSFor(s *session) {
	remaining := s.totalPackets - (s.nextSeq - 1)
	window := remaining
	if window > 16 {
		window = 16 // bounded burst size; sized to reassembly buffer capacity
	}
	s.windowSize = uint8(window)
	s.sentInBurst = 0
	payload := make([]byte, 8)
	if s.extended {
		payload[0] = etpCTS
		payload[1] = byte(window)
		putUint24LE(payload[2:], s.nextSeq)
		putUint24LE(payload[5:], s.key.pgn)
		_ = m.sendETPCM(6, reverse(s.key), payload)
		return
	}
	payload[0] = cmCTS
	payload[1] = byte(window)
	payload[2] = byte(s.nextSeq)
	payload[3] = 0xFF
	payload[4] = 0xFF
	putUint24LE(payload[5:], s.key.pgn)
	_ = m.sendCM(6, reverse(s.key), payload)
}

func (m *Manager) handleCTS(msg frame.Message, extended bool) {
	requestedPGN := readUint24LE(msg.Payload[5:8])
	key := sessionKey{source: msg.Destination, destination: msg.Source, pgn: requestedPGN}

	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok || !s.sending {
		return
	}

	var window uint8
	var next uint32
	if extended {
		window = msg.Payload[1]
		next = readUint24LE(msg.Payload[2:5])
	} else {
		window = msg.Payload[1]
		next = uint32(msg.Payload[2])
	}
	if window == 0 {
		// Receiver asked us to hold; wait for a later CTS.
		return
	}

	s.nextSeq = next
	s.windowSize = window
	s.sentInBurst = 0
	s.idleSince = 0
	s.state = stateSending
	m.sendBurst(s)
}

func (m *Manager) handleDPO(msg frame.Message) {
	requestedPGN := readUint24LE(msg.Payload[5:8])
	key := sessionKey{source: msg.Destination, destination: msg.Source, pgn: requestedPGN}
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok || !s.sending {
		return
	}
	s.nextSeq = readUint24LE(msg.Payload[2:5])
	s.sentInBurst = 0
	s.idleSince = 0
	m.sendBurst(s)
}

func (m *Manager) handleEndOfMsgAck(msg frame.Message) {
	requestedPGN := readUint24LE(msg.Payload[5:8])
	key := sessionKey{source: msg.Destination, destination: msg.Source, pgn: requestedPGN}
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if ok {
		m.completed.Emit(CompletedTransfer{Source: s.key.source, Destination: s.key.destination, PGN: s.key.pgn})
	}
}

func (m *Manager) handlePeerAbort(msg frame.Message) {
	requestedPGN := readUint24LE(msg.Payload[5:8])
	forward := sessionKey{source: msg.Source, destination: msg.Destination, pgn: requestedPGN}
	backward := sessionKey{source: msg.Destination, destination: msg.Source, pgn: requestedPGN}

	m.mu.Lock()
	s, ok := m.sessions[forward]
	if !ok {
		s, ok = m.sessions[backward]
	}
	if ok {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
	if ok {
		m.aborted.Emit(AbortedTransfer{Source: s.key.source, Destination: s.key.destination, PGN: s.key.pgn, Reason: AbortReason(msg.Payload[1])})
	}
}

func (m *Manager) handleData(msg frame.Message, extended bool) bool {
	if len(msg.Payload) < 1 {
		return true
	}
	seq := uint32(msg.Payload[0])

	m.mu.Lock()
	var s *session
	var key sessionKey
	for k, cand := range m.sessions {
		if k.source == msg.Source && k.destination == msg.Destination && !cand.sending && cand.extended == extended {
			s = cand
			key = k
			break
		}
	}
	m.mu.Unlock()
	if s == nil {
		return true
	}

	if seq != s.nextSeq {
		m.mu.Lock()
		m.abortLocked(s, AbortBadSequenceNumber)
		m.mu.Unlock()
		m.aborted.Emit(AbortedTransfer{Source: key.source, Destination: key.destination, PGN: key.pgn, Reason: AbortBadSequenceNumber})
		return true
	}

	remaining := int(s.totalSize) - s.recvBuf.GetOccupied()
	n := segmentSize
	if remaining < n {
		n = remaining
	}
	s.recvBuf.Write(msg.Payload[1 : 1+n])
	s.nextSeq++
	s.idleSince = 0

	if uint32(s.recvBuf.GetOccupied()) >= s.totalSize {
		payload := make([]byte, s.totalSize)
		s.recvBuf.Read(payload)
		complete := CompletedTransfer{Source: key.source, Destination: key.destination, PGN: key.pgn, Payload: payload}

		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()

		if s.mode == "cm" {
			m.sendEndOfMsgAck(s)
		}
		m.completed.Emit(complete)
		return true
	}

	if s.mode == "cm" {
		s.sentInBurst++
		if s.sentInBurst >= s.windowSize {
			m.sendCTSFor(s)
		}
	}
	return true
}

func (m *Manager) sendEndOfMsgAck(s *session) {
	payload := make([]byte, 8)
	if s.extended {
		payload[0] = etpEndOfMsgAck
		binary.LittleEndian.PutUint32(payload[1:5], s.totalSize)
		putUint24LE(payload[5:], s.key.pgn)
		_ = m.sendETPCM(6, reverse(s.key), payload)
		return
	}
	payload[0] = cmEndOfMsgAck
	binary.LittleEndian.PutUint16(payload[1:3], uint16(s.totalSize))
	payload[3] = byte(s.totalPackets)
	payload[4] = 0xFF
	putUint24LE(payload[5:], s.key.pgn)
	_ = m.sendCM(6, reverse(s.key), payload)
}

// sendNextBAMPacket transmits exactly one broadcast data packet; BAM
// paces packets by timer instead of a CTS window.
func (m *Manager) sendNextBAMPacket(s *session) {
	offset := int(s.nextSeq-1) * segmentSize
	if offset >= int(s.totalSize) {
		return
	}
	n := segmentSize
	if offset+n > int(s.totalSize) {
		n = int(s.totalSize) - offset
	}
	payload := make([]byte, 8)
	payload[0] = byte(s.nextSeq)
	copy(payload[1:], s.payload[offset:offset+n])
	for i := 1 + n; i < 8; i++ {
		payload[i] = 0xFF
	}
	if f, err := frame.FromMessage(6, PGNTPData, s.key.source, s.key.destination, payload); err == nil {
		_ = m.sendFrame(f)
	}
	s.nextSeq++
	if offset+n >= int(s.totalSize) {
		m.mu.Lock()
		delete(m.sessions, s.key)
		m.mu.Unlock()
		m.completed.Emit(CompletedTransfer{Source: s.key.source, Destination: s.key.destination, PGN: s.key.pgn})
	}
}

// sendBurst transmits data packets for a sending session until the
// granted window is exhausted or the payload is fully sent.
func (m *Manager) sendBurst(s *session) {
	for s.sentInBurst < s.windowSize {
		offset := int(s.nextSeq-1) * segmentSize
		if offset >= int(s.totalSize) {
			break
		}
		n := segmentSize
		if offset+n > int(s.totalSize) {
			n = int(s.totalSize) - offset
		}
		payload := make([]byte, 8)
		payload[0] = byte(s.nextSeq)
		copy(payload[1:], s.payload[offset:offset+n])
		for i := 1 + n; i < 8; i++ {
			payload[i] = 0xFF
		}

		pgn := PGNTPData
		if s.extended {
			pgn = PGNETPData
		}
		if f, err := frame.FromMessage(6, pgn, s.key.source, s.key.destination, payload); err == nil {
			_ = m.sendFrame(f)
		}

		s.nextSeq++
		s.sentInBurst++

		if offset+n >= int(s.totalSize) {
			return
		}
	}
}

// Update advances session timers (BAM pacing, T1-T4 timeouts) and
// drives retransmission. Called once per network.Manager.Update tick,
// before new frames are processed.
func (m *Manager) Update(elapsed time.Duration) {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.tick(s, elapsed)
	}
}

func (m *Manager) tick(s *session, elapsed time.Duration) {
	s.idleSince += elapsed

	if s.mode == "bam" && s.sending {
		s.bamInterval -= elapsed
		if s.bamInterval <= 0 {
			s.bamInterval = m.timers.BAMInterval
			m.sendNextBAMPacket(s)
		}
		return
	}

	timeout := m.timers.TPT1
	switch s.state {
	case stateAwaitingCTS:
		timeout = m.timers.TPT3
	case stateSending:
		timeout = m.timers.TPT2
	case stateReceiving:
		timeout = m.timers.TPT1
	}

	if s.idleSince >= timeout {
		m.mu.Lock()
		m.abortLocked(s, AbortTimeout)
		m.mu.Unlock()
		m.aborted.Emit(AbortedTransfer{Source: s.key.source, Destination: s.key.destination, PGN: s.key.pgn, Reason: AbortTimeout})
	}
}

func (m *Manager) abortLocked(s *session, reason AbortReason) {
	s.state = stateAborted
	delete(m.sessions, s.key)

	payload := make([]byte, 8)
	if s.extended {
		payload[0] = etpAbort
	} else {
		payload[0] = cmAbort
	}
	payload[1] = byte(reason)
	payload[2] = 0xFF
	payload[3] = 0xFF
	payload[4] = 0xFF
	putUint24LE(payload[5:], s.key.pgn)

	pgn := PGNTPConnManagement
	if s.extended {
		pgn = PGNETPConnManagement
	}
	if f, err := frame.FromMessage(6, pgn, s.key.source, s.key.destination, payload); err == nil {
		_ = m.sendFrame(f)
	}
}
