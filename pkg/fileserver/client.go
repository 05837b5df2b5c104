package fileserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// ResponseCallback receives the decoded response to one file-client
// request: the raw response payload (function code, TAN, error code,
// data) and a non-nil error if the code was anything but Success.
type ResponseCallback func(payload []byte, err error)

type pendingRequest struct {
	elapsed  time.Duration
	callback ResponseCallback
}

// Client is the ISO 11783-13 file-client side: TAN allocation, CCM
// heartbeat emission, and request/response matching against the
// server. A timed-out request is surfaced to the caller with no
// internal retry.
type Client struct {
	mu  sync.Mutex
	log *logrus.Entry
	net *network.Manager

	source     func() (uint8, bool)
	serverAddr uint8

	ccmInterval time.Duration
	ccmElapsed  time.Duration

	requestTimeout time.Duration
	nextTAN        uint8
	pending        map[uint8]*pendingRequest
}

// NewClient constructs a file client talking to serverAddr.
func NewClient(net *network.Manager, serverAddr uint8, ccmInterval, requestTimeout time.Duration, source func() (uint8, bool)) *Client {
	c := &Client{
		log:            logrus.WithField("component", "fileserver-client"),
		net:            net,
		source:         source,
		serverAddr:     serverAddr,
		ccmInterval:    ccmInterval,
		requestTimeout: requestTimeout,
		pending:        make(map[uint8]*pendingRequest),
	}
	net.RegisterPGNCallback(PGNFSToClient, c.handleResponse)
	return c
}

func (c *Client) ownAddress() (uint8, bool) { return c.source() }

// allocTAN returns the next TAN, wrapping 0->255->0 and skipping 0xFF
// (reserved for status broadcasts).
func (c *Client) allocTAN() uint8 {
	t := c.nextTAN
	c.nextTAN++
	if c.nextTAN == 0xFF {
		c.nextTAN = 0x00
	}
	return t
}

// Request sends a function-code request with the given parameters and
// registers callback to be invoked once the matching response arrives
// (or the request times out). Returns the TAN used, so a caller can
// resend the identical request bytes for idempotent retry semantics.
func (c *Client) Request(fc uint8, params []byte, callback ResponseCallback) (uint8, error) {
	addr, ok := c.ownAddress()
	if !ok {
		return 0, fmt.Errorf("fileserver: client has no claimed address")
	}

	c.mu.Lock()
	tan := c.allocTAN()
	c.pending[tan] = &pendingRequest{callback: callback}
	c.mu.Unlock()

	payload := append([]byte{fc, tan}, params...)
	if err := c.net.Send(PGNClientToFS, payload, addr, c.serverAddr); err != nil {
		c.mu.Lock()
		delete(c.pending, tan)
		c.mu.Unlock()
		return tan, err
	}
	return tan, nil
}

// RequestWithTAN resends a request using an explicit, caller-chosen
// TAN, for exercising the server's idempotent-replay behavior.
func (c *Client) RequestWithTAN(fc, tan uint8, params []byte, callback ResponseCallback) error {
	addr, ok := c.ownAddress()
	if !ok {
		return fmt.Errorf("fileserver: client has no claimed address")
	}
	c.mu.Lock()
	c.pending[tan] = &pendingRequest{callback: callback}
	c.mu.Unlock()

	payload := append([]byte{fc, tan}, params...)
	return c.net.Send(PGNClientToFS, payload, addr, c.serverAddr)
}

func (c *Client) handleResponse(msg frame.Message) {
	if len(msg.Payload) < 3 {
		return
	}
	tan := msg.Payload[1]
	code := Code(msg.Payload[2])

	c.mu.Lock()
	req, ok := c.pending[tan]
	if ok {
		delete(c.pending, tan)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if code == EndOfFile && msg.Payload[0] == FCReadFile {
		// End of file on a read is an empty read, not a failure.
		req.callback(msg.Payload[:3], nil)
		return
	}
	req.callback(msg.Payload, fsErr(code))
}

// Update emits CCM heartbeats at ccmInterval and times out any request
// that has waited longer than requestTimeout, surfacing the timeout to
// its callback. No internal retry.
func (c *Client) Update(elapsed time.Duration) {
	c.ccmElapsed += elapsed
	if c.ccmElapsed >= c.ccmInterval {
		c.ccmElapsed = 0
		c.sendCCM()
	}

	c.mu.Lock()
	var expired []*pendingRequest
	for tan, req := range c.pending {
		req.elapsed += elapsed
		if req.elapsed >= c.requestTimeout {
			expired = append(expired, req)
			delete(c.pending, tan)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		req.callback(nil, fmt.Errorf("fileserver: request timed out"))
	}
}

func (c *Client) sendCCM() {
	addr, ok := c.ownAddress()
	if !ok {
		return
	}
	_ = c.net.Send(PGNClientToFS, []byte{FCClientConnectionMaintenance}, addr, c.serverAddr)
}
