package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isobusgo/isostack/pkg/config"
	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

type captureBus struct {
	sent []frame.Frame
}

func (b *captureBus) Connect(...any) error               { return nil }
func (b *captureBus) Disconnect() error                   { return nil }
func (b *captureBus) Send(f frame.Frame) error             { b.sent = append(b.sent, f); return nil }
func (b *captureBus) Subscribe(frame.FrameListener) error { return nil }

func setupStation(t *testing.T) (*network.Manager, *captureBus, uint8) {
	t.Helper()
	bus := &captureBus{}
	net := network.NewManager(bus, config.DefaultTimers())
	name := network.NewNAME(network.NameFields{IdentityNumber: 2, Function: 128, ArbitraryAddressCapable: true})
	cf, err := net.CreateInternal(name, 0x81)
	require.NoError(t, err)
	net.Update(300 * time.Millisecond)
	require.Equal(t, network.StateClaimed, cf.State())
	addr, _ := cf.Address()
	bus.sent = nil
	return net, bus, addr
}

func TestEEC1Observed(t *testing.T) {
	net, _, addr := setupStation(t)
	eng := NewManager(net, func() (uint8, bool) { return addr, true })

	var got EEC1
	var gotSource uint8
	eng.OnEEC1(func(m EEC1, src uint8) { got = m; gotSource = src })

	payload := EncodeEEC1(EEC1{EngineSpeedRPM: 1500, SourceAddress: 0x01})
	f, err := frame.FromMessage(3, PGNEEC1, 0x90, frame.BroadcastAddress, payload)
	require.NoError(t, err)
	net.Handle(f)
	net.Update(0)

	assert.InDelta(t, 1500.0, got.EngineSpeedRPM, 0.125)
	assert.Equal(t, uint8(0x90), gotSource)
}

func TestEngineTemp2Observed(t *testing.T) {
	net, _, addr := setupStation(t)
	eng := NewManager(net, func() (uint8, bool) { return addr, true })

	var got EngineTemp2
	eng.OnEngineTemp2(func(m EngineTemp2, src uint8) { got = m })

	payload := EncodeEngineTemp2(EngineTemp2{EngineOilTempC: 95, TurboOilTempC: 105, EngineIntercoolerTempC: 50, Turbo1TempC: 115})
	f, err := frame.FromMessage(6, PGNEngineTemp2, 0x91, frame.BroadcastAddress, payload)
	require.NoError(t, err)
	net.Handle(f)
	net.Update(0)

	assert.InDelta(t, 95.0, got.EngineOilTempC, 0.1)
	assert.InDelta(t, 115.0, got.Turbo1TempC, 0.1)
}

func TestETC1Observed(t *testing.T) {
	net, _, addr := setupStation(t)
	eng := NewManager(net, func() (uint8, bool) { return addr, true })

	var got ETC1
	eng.OnETC1(func(m ETC1, src uint8) { got = m })

	payload := EncodeETC1(ETC1{CurrentGear: 5, SelectedGear: 5, OutputShaftSpeedRPM: 700})
	f, err := frame.FromMessage(6, PGNETC1, 0x92, frame.BroadcastAddress, payload)
	require.NoError(t, err)
	net.Handle(f)
	net.Update(0)

	assert.Equal(t, int8(5), got.CurrentGear)
	assert.InDelta(t, 700.0, got.OutputShaftSpeedRPM, 0.125)
}

func TestAftertreatment1Observed(t *testing.T) {
	net, _, addr := setupStation(t)
	eng := NewManager(net, func() (uint8, bool) { return addr, true })

	var got Aftertreatment1
	eng.OnAftertreatment1(func(m Aftertreatment1, src uint8) { got = m })

	payload := EncodeAftertreatment1(Aftertreatment1{DieselExhaustFluidTankLevel: 70, IntakeNOxPPM: 5})
	f, err := frame.FromMessage(6, PGNAftertreatment1, 0x93, frame.BroadcastAddress, payload)
	require.NoError(t, err)
	net.Handle(f)
	net.Update(0)

	assert.InDelta(t, 70.0, got.DieselExhaustFluidTankLevel, 0.4)
}

func TestSendEEC1RequiresClaimedAddress(t *testing.T) {
	net, bus, _ := setupStation(t)
	eng := NewManager(net, func() (uint8, bool) { return 0, false })

	err := eng.SendEEC1(EEC1{EngineSpeedRPM: 1000})
	assert.ErrorIs(t, err, network.ErrNotClaimed)
	assert.Empty(t, bus.sent)
}

func TestSendEEC1Broadcasts(t *testing.T) {
	net, bus, addr := setupStation(t)
	eng := NewManager(net, func() (uint8, bool) { return addr, true })

	err := eng.SendEEC1(EEC1{EngineSpeedRPM: 2000})
	require.NoError(t, err)
	require.Len(t, bus.sent, 1)
	assert.Equal(t, PGNEEC1, bus.sent[0].PGN())
	assert.Equal(t, frame.BroadcastAddress, bus.sent[0].Destination())
}
