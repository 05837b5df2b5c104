package network

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isobusgo/isostack/pkg/config"
	"github.com/isobusgo/isostack/pkg/frame"
)

func testName(identity uint32, mfg uint16, arbitrary bool) NAME {
	return NewNAME(NameFields{
		IdentityNumber:          identity,
		ManufacturerCode:        mfg,
		Function:                130,
		ArbitraryAddressCapable: arbitrary,
	})
}

func claimPayload(n NAME) []byte {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(n))
	return payload
}

func TestCreateInternalClaimsAddressAfterWindow(t *testing.T) {
	m := NewManager(nil, config.DefaultTimers())
	cf, err := m.CreateInternal(testName(1, 100, true), 0x80)
	require.NoError(t, err)
	assert.Equal(t, StateClaimingWait, cf.State())

	m.Update(249 * time.Millisecond)
	assert.Equal(t, StateClaimingWait, cf.State())

	m.Update(2 * time.Millisecond)
	assert.Equal(t, StateClaimed, cf.State())
	addr, ok := cf.Address()
	require.True(t, ok)
	assert.Equal(t, uint8(0x80), addr)
}

func TestLowerNAMEWinsContention(t *testing.T) {
	m := NewManager(nil, config.DefaultTimers())
	cf, err := m.CreateInternal(testName(100, 100, true), 0x80)
	require.NoError(t, err)
	m.Update(300 * time.Millisecond)
	require.Equal(t, StateClaimed, cf.State())

	claimant := testName(1, 1, false) // numerically lower NAME
	f, err := frame.FromMessage(6, PGNAddressClaimed, 0x80, frame.BroadcastAddress, claimPayload(claimant))
	require.NoError(t, err)
	m.Handle(f)
	m.Update(0)

	assert.Equal(t, StateClaimingWait, cf.State())
	_, claimed := cf.Address()
	assert.False(t, claimed)

	m.Update(300 * time.Millisecond)
	assert.Equal(t, StateClaimed, cf.State())
	newAddr, ok := cf.Address()
	require.True(t, ok)
	assert.NotEqual(t, uint8(0x80), newAddr)
}

func TestNonArbitraryCapableFailsOnContention(t *testing.T) {
	m := NewManager(nil, config.DefaultTimers())
	cf, err := m.CreateInternal(testName(100, 100, false), 0x80)
	require.NoError(t, err)
	m.Update(300 * time.Millisecond)
	require.Equal(t, StateClaimed, cf.State())

	claimant := testName(1, 1, false)
	f, err := frame.FromMessage(6, PGNAddressClaimed, 0x80, frame.BroadcastAddress, claimPayload(claimant))
	require.NoError(t, err)
	m.Handle(f)
	m.Update(0)

	assert.Equal(t, StateFailed, cf.State())
}

func TestHigherNAMEDefendsAddress(t *testing.T) {
	m := NewManager(nil, config.DefaultTimers())
	cf, err := m.CreateInternal(testName(1, 1, true), 0x80)
	require.NoError(t, err)
	m.Update(300 * time.Millisecond)
	require.Equal(t, StateClaimed, cf.State())

	claimant := testName(200, 200, true) // numerically higher, loses
	f, err := frame.FromMessage(6, PGNAddressClaimed, 0x80, frame.BroadcastAddress, claimPayload(claimant))
	require.NoError(t, err)
	m.Handle(f)
	m.Update(0)

	assert.Equal(t, StateClaimed, cf.State())
	addr, ok := cf.Address()
	require.True(t, ok)
	assert.Equal(t, uint8(0x80), addr)
}

func TestUnsupportedRequestSendsNACK(t *testing.T) {
	var sent []frame.Frame
	bus := &captureBus{onSend: func(f frame.Frame) { sent = append(sent, f) }}
	m := NewManager(bus, config.DefaultTimers())
	cf, err := m.CreateInternal(testName(1, 1, true), 0x80)
	require.NoError(t, err)
	m.Update(300 * time.Millisecond)
	require.Equal(t, StateClaimed, cf.State())
	sent = nil // drop the address-claim broadcast frames

	reqPayload := make([]byte, 3)
	putUint24LE(reqPayload, 0xFEEE) // an arbitrary unregistered PGN
	f, err := frame.FromMessage(6, PGNRequest, 0x90, 0x80, reqPayload)
	require.NoError(t, err)
	m.Handle(f)
	m.Update(0)

	require.Len(t, sent, 1)
	ack := sent[0]
	assert.Equal(t, PGNAcknowledgment, ack.PGN())
	assert.Equal(t, AckNegative, ack.Payload()[0])
}

func TestRegisterPGNCallbackDispatchesInOrder(t *testing.T) {
	m := NewManager(nil, config.DefaultTimers())
	var order []int
	m.RegisterPGNCallback(0xFF34, func(frame.Message) { order = append(order, 1) })
	m.RegisterPGNCallback(0xFF34, func(frame.Message) { order = append(order, 2) })

	f, err := frame.FromMessage(6, 0xFF34, 0x10, frame.BroadcastAddress, []byte{1, 2, 3})
	require.NoError(t, err)
	m.Handle(f)
	m.Update(0)

	assert.Equal(t, []int{1, 2}, order)
}

func TestRegisterPGNCallbackMarksSupportedNoNACK(t *testing.T) {
	var sent []frame.Frame
	bus := &captureBus{onSend: func(f frame.Frame) { sent = append(sent, f) }}
	m := NewManager(bus, config.DefaultTimers())
	cf, err := m.CreateInternal(testName(1, 1, true), 0x80)
	require.NoError(t, err)
	m.Update(300 * time.Millisecond)
	require.Equal(t, StateClaimed, cf.State())

	m.RegisterPGNCallback(0xFEF1, func(frame.Message) {})
	sent = nil

	reqPayload := make([]byte, 3)
	putUint24LE(reqPayload, 0xFEF1)
	f, err := frame.FromMessage(6, PGNRequest, 0x90, 0x80, reqPayload)
	require.NoError(t, err)
	m.Handle(f)
	m.Update(0)

	assert.Empty(t, sent)
}

func TestSendRejectsUnclaimedSource(t *testing.T) {
	m := NewManager(nil, config.DefaultTimers())
	err := m.Send(0x1234, []byte{1, 2, 3}, 0x80, frame.BroadcastAddress)
	assert.ErrorIs(t, err, ErrNotClaimed)
}

func TestSendWithoutTransportFailsOnLongPayload(t *testing.T) {
	m := NewManager(nil, config.DefaultTimers())
	cf, err := m.CreateInternal(testName(1, 1, true), 0x80)
	require.NoError(t, err)
	m.Update(300 * time.Millisecond)
	require.Equal(t, StateClaimed, cf.State())

	err = m.Send(0x1234, make([]byte, 20), 0x80, frame.BroadcastAddress)
	assert.ErrorIs(t, err, ErrNoTransport)
}

// captureBus is a minimal frame.Bus used to observe frames the manager
// sends, without a real network round-trip.
type captureBus struct {
	onSend func(frame.Frame)
}

func (b *captureBus) Connect(...any) error { return nil }
func (b *captureBus) Disconnect() error    { return nil }
func (b *captureBus) Send(f frame.Frame) error {
	if b.onSend != nil {
		b.onSend(f)
	}
	return nil
}
func (b *captureBus) Subscribe(frame.FrameListener) error { return nil }
