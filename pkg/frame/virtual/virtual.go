// Package virtual implements a TCP-loopback CAN bus used by tests and
// by anything wiring two independent bus instances together (the NIU)
// without real hardware. It is a virtualcan-protocol client that serializes
// frames over a TCP connection to a broker, with an optional
// loopback-to-self mode for single-process tests.
package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/frame"
)

func init() {
	frame.RegisterInterface("virtual", NewBus)
	frame.RegisterInterface("virtualcan", NewBus)
}

// Bus is a TCP-loopback CAN bus. With no broker connection it behaves
// as a pure in-process loopback when ReceiveOwn is set, which is the
// common case for unit tests.
type Bus struct {
	log        *logrus.Entry
	mu         sync.Mutex
	channel    string
	conn       net.Conn
	receiveOwn bool
	listener   frame.FrameListener
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
}

// NewBus constructs a virtual bus bound to channel (e.g. "localhost:18888").
func NewBus(channel string) (frame.Bus, error) {
	return &Bus{
		log:     logrus.WithField("component", "frame.virtual"),
		channel: channel,
		stopCh:  make(chan struct{}),
	}, nil
}

// SetReceiveOwn makes Send() loop sent frames straight back to the
// local listener, so a single process can talk to itself in tests.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		// No broker listening is fine for pure-loopback single process
		// tests: ReceiveOwn still works without a live connection.
		b.log.WithError(err).Debug("no virtualcan broker reachable, running loopback-only")
		return nil
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := b.running
	conn := b.conn
	b.mu.Unlock()

	if running {
		close(b.stopCh)
		b.wg.Wait()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (b *Bus) Send(f frame.Frame) error {
	b.mu.Lock()
	receiveOwn := b.receiveOwn
	listener := b.listener
	conn := b.conn
	b.mu.Unlock()

	if receiveOwn && listener != nil {
		listener.Handle(f)
	}
	if conn == nil {
		if receiveOwn {
			return nil
		}
		return errors.New("virtual: no active broker connection")
	}
	payload, err := serialize(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = conn.Write(payload)
	return err
}

func (b *Bus) Subscribe(listener frame.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	if b.running || b.conn == nil {
		// No broker connection means nothing to poll; frames only
		// arrive via the local ReceiveOwn loopback path.
		if b.conn == nil {
			return nil
		}
		if b.running {
			return nil
		}
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.receiveLoop()
	return nil
}

func (b *Bus) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		header := make([]byte, 4)
		n, err := conn.Read(header)
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		if n < 4 || err != nil {
			b.log.WithError(err).Warn("virtual bus reception loop closing")
			return
		}
		length := binary.BigEndian.Uint32(header)
		body := make([]byte, length)
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err = conn.Read(body)
		if err != nil || uint32(n) != length {
			b.log.WithError(err).Warn("virtual bus frame read short")
			continue
		}
		f, err := deserialize(body)
		if err != nil {
			continue
		}
		b.mu.Lock()
		listener := b.listener
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(*f)
		}
	}
}

func serialize(f frame.Frame) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, f); err != nil {
		return nil, err
	}
	body := buf.Bytes()
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

func deserialize(body []byte) (*frame.Frame, error) {
	var f frame.Frame
	if err := binary.Read(bytes.NewReader(body), binary.BigEndian, &f); err != nil {
		return nil, fmt.Errorf("virtual: deserialize frame: %w", err)
	}
	return &f, nil
}
