package fileserver

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

const serverAddr uint8 = 0x10
const clientAddr uint8 = 0x40

func newTestServer(t *testing.T) (*Server, *network.Manager) {
	t.Helper()
	bus := &captureBus{}
	net := network.NewManager(bus, config.DefaultTimers())
	addr := serverAddr
	source := func() (uint8, bool) { return addr, true }
	s := NewServer(net, 8, 32, 10*time.Second, 6*time.Second, 10*time.Second, source)
	s.FileSystem().MkdirAll(Separator+Separator, time.Now())
	_, _ = s.FileSystem().CreateFile(Separator+Separator+"README.TXT", time.Now())
	return s, net
}

func sendOpen(net *network.Manager, name string, flags OpenFlag, tan uint8) {
	payload := []byte{FCOpenFile, tan}
	payload = append(payload, byte(len(name)), byte(len(name)>>8))
	payload = append(payload, []byte(name)...)
	payload = append(payload, byte(flags))
	// The request is longer than one frame, so deliver it as the
	// reassembled message the transport protocol would hand over.
	net.InjectMessage(frame.Message{PGN: PGNClientToFS, Priority: 6, Source: clientAddr, Destination: serverAddr, Payload: payload})
	net.Update(0)
}

func TestTANIdempotentReplay(t *testing.T) {
	s, net := newTestServer(t)

	sendOpen(net, "README.TXT", 0, 5)
	require.Equal(t, 1, s.handles.Count())
	firstHandle := mustHandle(t, s)

	// Resend the identical request bytes with the same TAN: the
	// cached response must replay rather than opening a second handle.
	sendOpen(net, "README.TXT", 0, 5)
	assert.Equal(t, 1, s.handles.Count())
	assert.Equal(t, firstHandle, mustHandle(t, s))
}

func mustHandle(t *testing.T, s *Server) uint8 {
	t.Helper()
	for h := range s.handles.files {
		return h
	}
	t.Fatal("no open handle")
	return 0
}

func TestVolumeRemovalTimeout(t *testing.T) {
	s, _ := newTestServer(t)
	of, err := s.handles.Open(clientAddr, Separator+Separator+"README.TXT", false, true)
	require.NoError(t, err)
	s.volume.FileOpened()

	require.NoError(t, s.PrepareVolumeForRemoval())

	for i := 0; i < 10; i++ {
		s.RequestVolumeMaintain(clientAddr, time.Second)
		s.Update(time.Second)
	}
	assert.Equal(t, VolumePreparingForRemoval, s.volume.State())

	s.Update(time.Second)
	assert.Equal(t, VolumeRemoved, s.volume.State())
	_, stillOpen := s.handles.Get(of.Handle)
	assert.False(t, stillOpen)
}

func TestWildcardMatchGreedyBacktracking(t *testing.T) {
	assert.True(t, MatchWildcard("*.TXT", "README.TXT"))
	assert.True(t, MatchWildcard("REA?ME.TXT", "README.TXT"))
	assert.False(t, MatchWildcard("*.CSV", "README.TXT"))
	assert.True(t, MatchWildcard("*", "ANYTHING"))
}

func TestPathResolveDotDotClampsAtRoot(t *testing.T) {
	assert.Equal(t, Separator+Separator, Resolve(Separator+Separator, ".."))
	assert.Equal(t, Separator+Separator+"A", Resolve(Separator+Separator+"A"+Separator+"B", ".."))
}

func TestDOSDateTimeRoundTrip(t *testing.T) {
	y, m, d := UnpackDOSDate(PackDOSDate(2024, 3, 17))
	assert.Equal(t, 2024, y)
	assert.Equal(t, 3, m)
	assert.Equal(t, 17, d)

	h, mi, sec := UnpackDOSTime(PackDOSTime(13, 45, 31))
	assert.Equal(t, 13, h)
	assert.Equal(t, 45, mi)
	assert.Equal(t, 30, sec)
}

func TestHandleTableSkipsReservedAndEnforcesPerClientLimit(t *testing.T) {
	ht := newHandleTable(2, 8)
	of1, err := ht.Open(clientAddr, "A", false, true)
	require.NoError(t, err)
	of2, err := ht.Open(clientAddr, "B", false, true)
	require.NoError(t, err)
	assert.NotEqual(t, uint8(0x00), of1.Handle)
	assert.NotEqual(t, uint8(0xFF), of1.Handle)
	assert.NotEqual(t, uint8(0x00), of2.Handle)

	_, err = ht.Open(clientAddr, "C", false, true)
	assert.Error(t, err)
}
