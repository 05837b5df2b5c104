package fileserver

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// Function codes, ISO 11783-13.
const (
	FCGetCurrentDirectory    uint8 = 0x00
	FCChangeDirectory        uint8 = 0x01
	FCOpenFile               uint8 = 0x02
	FCSeekFile               uint8 = 0x03
	FCReadFile               uint8 = 0x04
	FCWriteFile              uint8 = 0x05
	FCCloseFile              uint8 = 0x06
	FCMoveFile               uint8 = 0x10
	FCDeleteFile             uint8 = 0x11
	FCGetFileAttributes      uint8 = 0x12
	FCSetFileAttributes      uint8 = 0x13
	FCGetFileDateTime        uint8 = 0x14
	FCInitializeVolume       uint8 = 0x20
	FCFileServerStatus       uint8 = 0x30
	FCGetFileServerProperties uint8 = 0x31
	FCVolumeStatus           uint8 = 0x40
	FCClientConnectionMaintenance uint8 = 0xFF
)

// Standard file-server PGNs: client requests travel on
// PGNClientToFS, server responses and unsolicited status on PGNFSToClient.
const (
	PGNClientToFS uint32 = 0xAA00
	PGNFSToClient uint32 = 0xAB00
)

// OpenFlag bits for FCOpenFile's flags byte.
const (
	OpenForWriting OpenFlag = 1 << 0
	OpenCreateNew  OpenFlag = 1 << 1
	OpenDir        OpenFlag = 1 << 2
	OpenExclusive  OpenFlag = 1 << 3
)

// OpenFlag is the bitmask passed to FCOpenFile.
type OpenFlag uint8

// Seek whence values for FCSeekFile.
const (
	SeekFromStart   uint8 = 0
	SeekFromCurrent uint8 = 1
	SeekFromEnd     uint8 = 2
)

const serverVersion uint8 = 2

// client is the server-side record of one connected file-server
// client.
type client struct {
	addr       uint8
	sinceCCM   time.Duration
	currentDir string
}

// Server implements the ISO 11783-13 file-server side: function-code
// dispatch, TAN-cached idempotent replies, CCM-driven connection
// tracking, and the volume state machine, wired to the network
// manager's PGN dispatch table the way pkg/diagnostics.Manager wires
// its own DM-series handlers. A function-code byte selects a handler,
// which produces one reply.
type Server struct {
	mu     sync.Mutex
	log    *logrus.Entry
	net    *network.Manager
	source func() (uint8, bool)

	fs      *FileSystem
	handles *handleTable
	tan     *tanCache
	volume  *Volume

	clients map[uint8]*client

	ccmTimeout time.Duration
}

// NewServer constructs a file server backed by an empty virtual
// filesystem.
func NewServer(net *network.Manager, maxOpenPerClient, maxOpenTotal int, tanTimeout, ccmTimeout, volumeMaxRemoval time.Duration, source func() (uint8, bool)) *Server {
	s := &Server{
		log:        logrus.WithField("component", "fileserver"),
		net:        net,
		source:     source,
		fs:         NewFileSystem(),
		handles:    newHandleTable(maxOpenPerClient, maxOpenTotal),
		tan:        newTANCache(tanTimeout),
		volume:     NewVolume(volumeMaxRemoval),
		clients:    make(map[uint8]*client),
		ccmTimeout: ccmTimeout,
	}
	s.volume.OnStatusChange(func(state VolumeState) {
		if state == VolumeRemoved {
			s.handles.CloseAll()
		}
		s.broadcastVolumeStatus(state)
	})
	s.wire()
	return s
}

// FileSystem exposes the server's backing virtual filesystem so a
// caller can seed files before clients connect.
func (s *Server) FileSystem() *FileSystem { return s.fs }

// Volume exposes the server's volume state machine.
func (s *Server) Volume() *Volume { return s.volume }

func (s *Server) wire() {
	s.net.RegisterPGNCallback(PGNClientToFS, s.handleRequest)
}

func (s *Server) ownAddress() (uint8, bool) { return s.source() }

// Update advances the TAN cache, volume removal timer, and CCM
// liveness tracking, disconnecting and force-closing any client whose
// CCM has gone stale.
func (s *Server) Update(elapsed time.Duration) {
	s.tan.Update(elapsed)
	s.volume.Update(elapsed)

	s.mu.Lock()
	var stale []uint8
	for addr, c := range s.clients {
		c.sinceCCM += elapsed
		if c.sinceCCM > s.ccmTimeout {
			stale = append(stale, addr)
		}
	}
	s.mu.Unlock()

	for _, addr := range stale {
		s.disconnectClient(addr)
	}
}

func (s *Server) disconnectClient(addr uint8) {
	s.mu.Lock()
	delete(s.clients, addr)
	s.mu.Unlock()
	for range s.handles.CloseAllForClient(addr) {
		s.volume.FileClosed()
	}
	s.tan.ForgetClient(addr)
}

func (s *Server) clientFor(addr uint8) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[addr]
	if !ok {
		c = &client{addr: addr, currentDir: Separator + Separator}
		s.clients[addr] = c
	}
	return c
}

func (s *Server) handleRequest(msg frame.Message) {
	if len(msg.Payload) < 1 {
		return
	}
	fc := msg.Payload[0]

	if fc == FCClientConnectionMaintenance {
		c := s.clientFor(msg.Source)
		c.sinceCCM = 0
		return
	}
	if len(msg.Payload) < 2 {
		return
	}
	tan := msg.Payload[1]
	c := s.clientFor(msg.Source)

	if cached, ok := s.tan.Lookup(msg.Source, tan); ok {
		s.reply(msg.Source, cached)
		return
	}

	resp := s.dispatch(c, fc, tan, msg.Payload[2:])
	s.tan.Store(msg.Source, tan, resp)
	s.reply(msg.Source, resp)
}

func (s *Server) reply(to uint8, payload []byte) {
	addr, ok := s.ownAddress()
	if !ok {
		return
	}
	_ = s.net.Send(PGNFSToClient, payload, addr, to)
}

func header(fc, tan uint8, code Code) []byte {
	return []byte{fc, tan, byte(code)}
}

func (s *Server) dispatch(c *client, fc, tan uint8, params []byte) []byte {
	switch fc {
	case FCGetCurrentDirectory:
		return s.handleGetCurrentDirectory(c, tan)
	case FCChangeDirectory:
		return s.handleChangeDirectory(c, tan, params)
	case FCOpenFile:
		return s.handleOpenFile(c, tan, params)
	case FCSeekFile:
		return s.handleSeekFile(tan, params)
	case FCReadFile:
		return s.handleReadFile(tan, params)
	case FCWriteFile:
		return s.handleWriteFile(tan, params)
	case FCCloseFile:
		return s.handleCloseFile(tan, params)
	case FCMoveFile:
		return s.handleMoveFile(c, tan, params)
	case FCDeleteFile:
		return s.handleDeleteFile(c, tan, params)
	case FCGetFileAttributes:
		return s.handleGetAttributes(c, tan, params)
	case FCSetFileAttributes:
		return s.handleSetAttributes(c, tan, params)
	case FCGetFileDateTime:
		return s.handleGetFileDateTime(c, tan, params)
	case FCInitializeVolume:
		return s.handleInitializeVolume(tan, params)
	case FCFileServerStatus:
		return append(header(fc, tan, Success), 0, 0)
	case FCGetFileServerProperties:
		return s.handleGetFileServerProperties(tan)
	case FCVolumeStatus:
		return s.handleVolumeStatus(tan)
	default:
		return header(fc, tan, InvalidAccess)
	}
}

func readString(params []byte) (string, []byte, bool) {
	if len(params) < 2 {
		return "", nil, false
	}
	n := int(binary.LittleEndian.Uint16(params[0:2]))
	if len(params) < 2+n {
		return "", nil, false
	}
	return string(params[2 : 2+n]), params[2+n:], true
}

func (s *Server) handleGetCurrentDirectory(c *client, tan uint8) []byte {
	resp := header(FCGetCurrentDirectory, tan, Success)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(c.currentDir)))
	resp = append(resp, lenBuf[:]...)
	return append(resp, []byte(c.currentDir)...)
}

func (s *Server) handleChangeDirectory(c *client, tan uint8, params []byte) []byte {
	path, _, ok := readString(params)
	if !ok {
		return header(FCChangeDirectory, tan, InvalidFileOrPathName)
	}
	resolved := Resolve(c.currentDir, path)
	n, ok := s.fs.Stat(resolved)
	if resolved != Separator+Separator && (!ok || !n.isDir) {
		return header(FCChangeDirectory, tan, FilePathNotFound)
	}
	c.currentDir = resolved
	return header(FCChangeDirectory, tan, Success)
}

func (s *Server) handleOpenFile(c *client, tan uint8, params []byte) []byte {
	if len(params) < 1 {
		return header(FCOpenFile, tan, InvalidFileOrPathName)
	}
	name, rest, ok := readString(params)
	if !ok || len(rest) < 1 {
		return header(FCOpenFile, tan, InvalidFileOrPathName)
	}
	flags := OpenFlag(rest[0])
	path := Resolve(c.currentDir, name)

	isDir := flags&OpenDir != 0
	n, exists := s.fs.Stat(path)
	if !exists {
		if isDir || flags&OpenCreateNew == 0 {
			return header(FCOpenFile, tan, FilePathNotFound)
		}
		var ok2 bool
		n, ok2 = s.fs.CreateFile(path, time.Time{})
		if !ok2 {
			return header(FCOpenFile, tan, FileAlreadyExists)
		}
	} else if isDir != n.isDir {
		return header(FCOpenFile, tan, InvalidAccess)
	}

	of, err := s.handles.Open(c.addr, path, isDir, flags&OpenForWriting == 0)
	if err != nil {
		return header(FCOpenFile, tan, err.(*FSError).Code)
	}
	s.volume.FileOpened()

	resp := header(FCOpenFile, tan, Success)
	return append(resp, of.Handle)
}

func (s *Server) handleSeekFile(tan uint8, params []byte) []byte {
	if len(params) < 6 {
		return header(FCSeekFile, tan, InvalidHandle)
	}
	handle := params[0]
	offset := int32(binary.LittleEndian.Uint32(params[1:5]))
	whence := params[5]
	of, ok := s.handles.Get(handle)
	if !ok {
		return header(FCSeekFile, tan, InvalidHandle)
	}
	n, _ := s.fs.Stat(of.Path)
	size := int32(0)
	if n != nil {
		size = int32(len(n.data))
	}
	var pos int32
	switch whence {
	case SeekFromStart:
		pos = offset
	case SeekFromCurrent:
		pos = int32(of.Position) + offset
	case SeekFromEnd:
		pos = size + offset
	default:
		return header(FCSeekFile, tan, InvalidAccess)
	}
	if pos < 0 {
		pos = 0
	}
	of.Position = uint32(pos)
	resp := header(FCSeekFile, tan, Success)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], of.Position)
	return append(resp, buf[:]...)
}

func (s *Server) handleReadFile(tan uint8, params []byte) []byte {
	if len(params) < 3 {
		return header(FCReadFile, tan, InvalidHandle)
	}
	handle := params[0]
	count := binary.LittleEndian.Uint16(params[1:3])
	of, ok := s.handles.Get(handle)
	if !ok {
		return header(FCReadFile, tan, InvalidHandle)
	}
	if of.IsDir {
		return s.readDirectory(tan, of)
	}
	n, ok := s.fs.Stat(of.Path)
	if !ok {
		return header(FCReadFile, tan, FilePathNotFound)
	}
	if int(of.Position) >= len(n.data) {
		return header(FCReadFile, tan, EndOfFile)
	}
	end := int(of.Position) + int(count)
	if end > len(n.data) {
		end = len(n.data)
	}
	data := n.data[of.Position:end]
	of.Position += uint32(len(data))
	return append(header(FCReadFile, tan, Success), data...)
}

func (s *Server) readDirectory(tan uint8, of *OpenFile) []byte {
	entries, ok := s.fs.List(of.Path)
	if !ok {
		return header(FCReadFile, tan, FilePathNotFound)
	}
	resp := header(FCReadFile, tan, Success)
	resp = append(resp, byte(len(entries)))
	for _, e := range entries {
		resp = append(resp, byte(e.attr()))
		resp = append(resp, byte(len(e.name)))
		resp = append(resp, []byte(e.name)...)
	}
	return resp
}

func (s *Server) handleWriteFile(tan uint8, params []byte) []byte {
	if len(params) < 1 {
		return header(FCWriteFile, tan, InvalidHandle)
	}
	handle := params[0]
	data := params[1:]
	of, ok := s.handles.Get(handle)
	if !ok {
		return header(FCWriteFile, tan, InvalidHandle)
	}
	if of.ReadOnly {
		return header(FCWriteFile, tan, FileNotOpenForWriting)
	}
	n, ok := s.fs.Stat(of.Path)
	if !ok {
		return header(FCWriteFile, tan, FilePathNotFound)
	}
	end := int(of.Position) + len(data)
	if end > len(n.data) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[of.Position:end], data)
	of.Position += uint32(len(data))
	resp := header(FCWriteFile, tan, Success)
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(len(data)))
	return append(resp, buf[:]...)
}

func (s *Server) handleCloseFile(tan uint8, params []byte) []byte {
	if len(params) < 1 {
		return header(FCCloseFile, tan, InvalidHandle)
	}
	if err := s.handles.Close(params[0]); err != nil {
		return header(FCCloseFile, tan, err.(*FSError).Code)
	}
	s.volume.FileClosed()
	return header(FCCloseFile, tan, Success)
}

func (s *Server) handleMoveFile(c *client, tan uint8, params []byte) []byte {
	src, rest, ok := readString(params)
	if !ok {
		return header(FCMoveFile, tan, InvalidFileOrPathName)
	}
	dst, _, ok := readString(rest)
	if !ok {
		return header(FCMoveFile, tan, InvalidFileOrPathName)
	}
	if err := s.fs.Move(Resolve(c.currentDir, src), Resolve(c.currentDir, dst)); err != nil {
		return header(FCMoveFile, tan, err.(*FSError).Code)
	}
	return header(FCMoveFile, tan, Success)
}

func (s *Server) handleDeleteFile(c *client, tan uint8, params []byte) []byte {
	path, _, ok := readString(params)
	if !ok {
		return header(FCDeleteFile, tan, InvalidFileOrPathName)
	}
	resolved := Resolve(c.currentDir, path)
	if strings.ContainsAny(path, "*?") {
		dir, ok := s.fs.List(Dir(resolved))
		if !ok {
			return header(FCDeleteFile, tan, FilePathNotFound)
		}
		pattern := Base(resolved)
		for _, e := range dir {
			if MatchWildcard(pattern, e.name) {
				_ = s.fs.Remove(Dir(resolved) + Separator + e.name)
			}
		}
		return header(FCDeleteFile, tan, Success)
	}
	if err := s.fs.Remove(resolved); err != nil {
		return header(FCDeleteFile, tan, err.(*FSError).Code)
	}
	return header(FCDeleteFile, tan, Success)
}

func (s *Server) handleGetAttributes(c *client, tan uint8, params []byte) []byte {
	path, _, ok := readString(params)
	if !ok {
		return header(FCGetFileAttributes, tan, InvalidFileOrPathName)
	}
	n, ok := s.fs.Stat(Resolve(c.currentDir, path))
	if !ok {
		return header(FCGetFileAttributes, tan, FilePathNotFound)
	}
	return append(header(FCGetFileAttributes, tan, Success), byte(n.attr()))
}

func (s *Server) handleSetAttributes(c *client, tan uint8, params []byte) []byte {
	path, rest, ok := readString(params)
	if !ok || len(rest) < 1 {
		return header(FCSetFileAttributes, tan, InvalidFileOrPathName)
	}
	n, ok := s.fs.Stat(Resolve(c.currentDir, path))
	if !ok {
		return header(FCSetFileAttributes, tan, FilePathNotFound)
	}
	n.setAttr(Attr(rest[0]))
	return header(FCSetFileAttributes, tan, Success)
}

func (s *Server) handleGetFileDateTime(c *client, tan uint8, params []byte) []byte {
	path, _, ok := readString(params)
	if !ok {
		return header(FCGetFileDateTime, tan, InvalidFileOrPathName)
	}
	n, ok := s.fs.Stat(Resolve(c.currentDir, path))
	if !ok {
		return header(FCGetFileDateTime, tan, FilePathNotFound)
	}
	t := n.modified
	dateV := PackDOSDate(t.Year(), int(t.Month()), t.Day())
	timeV := PackDOSTime(t.Hour(), t.Minute(), t.Second())
	resp := header(FCGetFileDateTime, tan, Success)
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[0:2], dateV)
	binary.LittleEndian.PutUint16(buf[2:4], timeV)
	return append(resp, buf[:]...)
}

func (s *Server) handleInitializeVolume(tan uint8, params []byte) []byte {
	resp := header(FCInitializeVolume, tan, Success)
	return append(resp, byte(s.volume.State()))
}

func (s *Server) handleGetFileServerProperties(tan uint8) []byte {
	resp := header(FCGetFileServerProperties, tan, Success)
	resp = append(resp, serverVersion)
	resp = append(resp, byte(len(Separator)))
	return append(resp, Separator[0])
}

func (s *Server) handleVolumeStatus(tan uint8) []byte {
	return append(header(FCVolumeStatus, tan, Success), byte(s.volume.State()))
}

// broadcastVolumeStatus sends an unsolicited volume-status message on
// every volume state change.
func (s *Server) broadcastVolumeStatus(state VolumeState) {
	addr, ok := s.ownAddress()
	if !ok {
		return
	}
	payload := []byte{FCVolumeStatus, 0xFF, byte(Success), byte(state)}
	_ = s.net.Send(PGNFSToClient, payload, addr, frame.BroadcastAddress)
}

// PrepareVolumeForRemoval begins the removal sequence; maintain-volume
// requests from still-connected clients are recorded via
// RequestVolumeMaintain.
func (s *Server) PrepareVolumeForRemoval() error {
	return s.volume.PrepareForRemoval()
}

// RequestVolumeMaintain records a maintain-volume request from client,
// valid while the volume is PreparingForRemoval.
func (s *Server) RequestVolumeMaintain(clientAddr uint8, window time.Duration) {
	s.volume.RequestMaintainFor(clientAddr, window)
}
