// Package niu implements the ISO 11783-4 Network Interconnect Unit:
// a filter-rule database bridging a tractor-side and an implement-side
// bus, with rate limiting, NAME-based predicates, and
// repeater/bridge/router/gateway variants built on per-PGN filter
// rules. Persistent rules load from pkg/config or from the 22-byte
// record file format.
package niu

import (
	"encoding/binary"
	"time"

	"github.com/isobusgo/isostack/pkg/network"
)

// Policy is the action a matching filter rule applies to a frame.
type Policy uint8

const (
	Allow Policy = iota
	Block
	Monitor
)

// Side identifies which bus a frame originated from or is destined
// for.
type Side uint8

const (
	TractorSide Side = iota
	ImplementSide
)

func (s Side) Other() Side {
	if s == TractorSide {
		return ImplementSide
	}
	return TractorSide
}

// FilterRule is one entry in the NIU's filter database.
// PGN 0 matches any PGN (a NAME-only rule). MinInterval, when nonzero,
// rate-limits repeated matches.
type FilterRule struct {
	PGN           uint32
	Policy        Policy
	Bidirectional bool
	SourceName    *network.NAME
	DestName      *network.NAME
	MinInterval   time.Duration
	Persistent    bool

	lastForward time.Duration // age clock, set relative to the NIU's own Update clock
	everForwarded bool
}

const filterRecordSize = 22

// Encode serializes a FilterRule to its 22-byte persisted form:
// 3-byte PGN, 1-byte flags, 8-byte source NAME (0xFF filled
// if absent), 8-byte dest NAME, 2-byte max-frequency in milliseconds.
func (r FilterRule) Encode() [filterRecordSize]byte {
	var buf [filterRecordSize]byte
	buf[0] = byte(r.PGN)
	buf[1] = byte(r.PGN >> 8)
	buf[2] = byte(r.PGN >> 16)

	var flags byte
	flags |= byte(r.Policy) & 0x3
	if r.Bidirectional {
		flags |= 1 << 2
	}
	if r.Persistent {
		flags |= 1 << 3
	}
	if r.SourceName != nil {
		flags |= 1 << 4
	}
	if r.DestName != nil {
		flags |= 1 << 5
	}
	buf[3] = flags

	for i := 4; i < 12; i++ {
		buf[i] = 0xFF
	}
	if r.SourceName != nil {
		binary.LittleEndian.PutUint64(buf[4:12], uint64(*r.SourceName))
	}
	for i := 12; i < 20; i++ {
		buf[i] = 0xFF
	}
	if r.DestName != nil {
		binary.LittleEndian.PutUint64(buf[12:20], uint64(*r.DestName))
	}

	ms := r.MinInterval / time.Millisecond
	buf[20] = byte(ms)
	buf[21] = byte(ms >> 8)
	return buf
}

// DecodeFilterRule reverses Encode.
func DecodeFilterRule(buf [filterRecordSize]byte) FilterRule {
	r := FilterRule{
		PGN:    uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16,
		Policy: Policy(buf[3] & 0x3),
	}
	r.Bidirectional = buf[3]&(1<<2) != 0
	r.Persistent = buf[3]&(1<<3) != 0
	hasSource := buf[3]&(1<<4) != 0
	hasDest := buf[3]&(1<<5) != 0

	if hasSource {
		n := network.NAME(binary.LittleEndian.Uint64(buf[4:12]))
		r.SourceName = &n
	}
	if hasDest {
		n := network.NAME(binary.LittleEndian.Uint64(buf[12:20]))
		r.DestName = &n
	}
	ms := uint16(buf[20]) | uint16(buf[21])<<8
	r.MinInterval = time.Duration(ms) * time.Millisecond
	return r
}
