package niu

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/config"
	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// PGNNetworkInterconnect is the control PGN used to manage an NIU's
// filter database remotely.
const PGNNetworkInterconnect uint32 = 0xED00

// Control commands carried in byte 0 of a PGNNetworkInterconnect
// message.
const (
	cmdAddFilterEntry     uint8 = 0x01
	cmdDeleteFilterEntry  uint8 = 0x02
	cmdDeleteAllEntries   uint8 = 0x03
	cmdSetFilterMode      uint8 = 0x04
	cmdRequestPortStats   uint8 = 0x05
	cmdPortStatsResponse  uint8 = 0x06
)

// Controller wires an NIU's filter database to the
// PGNNetworkInterconnect control PGN.
type Controller struct {
	log *logrus.Entry
	net *network.Manager
	niu *NIU

	source func() (uint8, bool)
}

// NewController registers the control PGN handler for niu on net.
func NewController(net *network.Manager, n *NIU, source func() (uint8, bool)) *Controller {
	c := &Controller{
		log:    logrus.WithField("component", "niu-control"),
		net:    net,
		niu:    n,
		source: source,
	}
	net.RegisterPGNCallback(PGNNetworkInterconnect, c.handle)
	return c
}

// handle dispatches an incoming control message. Messages shorter than
// 2 bytes are malformed and silently dropped.
func (c *Controller) handle(msg frame.Message) {
	if len(msg.Payload) < 2 {
		return
	}
	cmd := msg.Payload[0]

	switch cmd {
	case cmdAddFilterEntry:
		if len(msg.Payload) < 1+filterRecordSize {
			return
		}
		var rec [filterRecordSize]byte
		copy(rec[:], msg.Payload[1:1+filterRecordSize])
		c.niu.AddFilter(DecodeFilterRule(rec))
	case cmdDeleteFilterEntry:
		idx := int(msg.Payload[1])
		c.niu.DeleteFilter(idx)
	case cmdDeleteAllEntries:
		c.niu.DeleteAllFilters()
	case cmdSetFilterMode:
		c.niu.SetFilterMode(FilterMode(msg.Payload[1]))
	case cmdRequestPortStats:
		c.sendPortStats(msg.Source)
	default:
		c.log.WithField("cmd", cmd).Debug("unrecognized control command")
	}
}

func (c *Controller) sendPortStats(to uint8) {
	from, ok := c.source()
	if !ok {
		return
	}
	forwarded, blocked := c.niu.Stats()

	payload := make([]byte, 9)
	payload[0] = cmdPortStatsResponse
	binary.LittleEndian.PutUint32(payload[1:5], uint32(forwarded))
	binary.LittleEndian.PutUint32(payload[5:9], uint32(blocked))
	_ = c.net.Send(PGNNetworkInterconnect, payload, from, to)
}

// FromConfig converts config-layer filter rules into niu.FilterRule
// values and loads them into n.
func FromConfig(n *NIU, rules []config.FilterRule) {
	for _, r := range rules {
		fr := FilterRule{
			PGN:           r.PGN,
			Bidirectional: r.Bidirectional,
			Persistent:    r.Persistent,
		}
		switch r.Policy {
		case "block":
			fr.Policy = Block
		case "monitor":
			fr.Policy = Monitor
		default:
			fr.Policy = Allow
		}
		if r.SourceName != nil {
			n := network.NAME(*r.SourceName)
			fr.SourceName = &n
		}
		if r.DestName != nil {
			n := network.NAME(*r.DestName)
			fr.DestName = &n
		}
		fr.MinInterval = time.Duration(r.MaxFrequencyMs) * time.Millisecond
		n.AddFilter(fr)
	}
}
