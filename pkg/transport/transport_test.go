package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isobusgo/isostack/pkg/config"
	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// loopback wires a sender Manager and a receiver Manager together
// directly, bypassing any real bus, the way a single-process test
// exercises both halves of a protocol.
type loopback struct {
	peer *Manager
}

func (l *loopback) Connect(...any) error { return nil }
func (l *loopback) Disconnect() error    { return nil }
func (l *loopback) Send(f frame.Frame) error {
	msg := frame.MessageFromFrame(f, time.Time{})
	l.peer.HandleFrame(msg)
	return nil
}
func (l *loopback) Subscribe(frame.FrameListener) error { return nil }

func newPair(t *testing.T) (*Manager, *Manager) {
	t.Helper()
	sender := NewManager(nil, config.DefaultTimers())
	receiver := NewManager(nil, config.DefaultTimers())
	sender.bus = &loopback{peer: receiver}
	receiver.bus = &loopback{peer: sender}
	return sender, receiver
}

func TestBAMBroadcastReassembly(t *testing.T) {
	sender, receiver := newPair(t)

	var got CompletedTransfer
	receiver.OnCompleted(func(c CompletedTransfer) { got = c })

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}
	err := sender.Send(6, 0xFF00, payload, 0x10, frame.BroadcastAddress)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		sender.Update(60 * time.Millisecond)
		receiver.Update(60 * time.Millisecond)
	}

	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, uint8(0x10), got.Source)
}

func TestRTSCTSReassembly(t *testing.T) {
	sender, receiver := newPair(t)

	var got CompletedTransfer
	receiver.OnCompleted(func(c CompletedTransfer) { got = c })
	var senderDone bool
	sender.OnCompleted(func(c CompletedTransfer) { senderDone = true })

	payload := make([]byte, 50)
	for i := range payload {
		payload[i] = byte(i * 3)
	}
	err := sender.Send(6, 0xFF01, payload, 0x10, 0x20)
	require.NoError(t, err)

	for i := 0; i < 10 && got.Payload == nil; i++ {
		sender.Update(10 * time.Millisecond)
		receiver.Update(10 * time.Millisecond)
	}

	assert.Equal(t, payload, got.Payload)
	assert.True(t, senderDone)
}

func TestBadSequenceNumberAborts(t *testing.T) {
	_, receiver := newPair(t)
	var aborted AbortedTransfer
	receiver.OnAborted(func(a AbortedTransfer) { aborted = a })

	// Manually start a receive session, then feed a data packet with
	// the wrong sequence number.
	rts := make([]byte, 8)
	rts[0] = cmRTS
	rts[1] = 10
	rts[2] = 0
	rts[3] = 2
	rts[4] = 0xFF
	putUint24LE(rts[5:], 0xFF02)
	f, err := frame.FromMessage(6, PGNTPConnManagement, 0x10, 0x20, rts)
	require.NoError(t, err)
	receiver.HandleFrame(frame.MessageFromFrame(f, time.Time{}))

	bad := make([]byte, 8)
	bad[0] = 2 // should be 1
	dataFrame, err := frame.FromMessage(6, PGNTPData, 0x10, 0x20, bad)
	require.NoError(t, err)
	receiver.HandleFrame(frame.MessageFromFrame(dataFrame, time.Time{}))

	assert.Equal(t, AbortBadSequenceNumber, aborted.Reason)
}

func TestAwaitingCTSTimeoutAborts(t *testing.T) {
	sender, _ := newPair(t)
	sender.bus = nil // suppress peer delivery; we only want the timeout path

	var aborted AbortedTransfer
	sender.OnAborted(func(a AbortedTransfer) { aborted = a })

	err := sender.Send(6, 0xFF03, make([]byte, 50), 0x10, 0x20)
	require.NoError(t, err)

	sender.Update(2 * time.Second)
	assert.Equal(t, AbortTimeout, aborted.Reason)
}

func TestBindDispatchesReassembledPayloadToPGNSubscribers(t *testing.T) {
	net := network.NewManager(nil, config.DefaultTimers())
	tp := NewManager(nil, config.DefaultTimers())
	Bind(net, tp)

	var got frame.Message
	net.RegisterPGNCallback(0xFF00, func(m frame.Message) { got = m })

	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	bam := make([]byte, 8)
	bam[0] = cmBAM
	bam[1] = byte(len(payload))
	bam[3] = 2
	bam[4] = 0xFF
	putUint24LE(bam[5:], 0xFF00)
	f, err := frame.FromMessage(6, PGNTPConnManagement, 0x10, frame.BroadcastAddress, bam)
	require.NoError(t, err)
	net.Handle(f)

	for seq := uint8(1); seq <= 2; seq++ {
		data := make([]byte, 8)
		data[0] = seq
		copy(data[1:], payload[(int(seq)-1)*7:])
		df, err := frame.FromMessage(6, PGNTPData, 0x10, frame.BroadcastAddress, data)
		require.NoError(t, err)
		net.Handle(df)
	}
	net.Update(0)

	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, uint32(0xFF00), got.PGN)
	assert.Equal(t, uint8(0x10), got.Source)
}
