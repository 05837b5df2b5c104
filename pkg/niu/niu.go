package niu

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/event"
	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// FilterMode is the default action applied when no rule matches.
type FilterMode uint8

const (
	// PassAll defaults unmatched frames to Allow.
	PassAll FilterMode = iota
	// BlockAll defaults unmatched frames to Block.
	BlockAll
)

// Resolver resolves a NAME to its currently claimed address, so
// NAME-based rules can be evaluated against live bus state.
type Resolver interface {
	ResolveAddress(name network.NAME) (uint8, bool)
}

// MonitorEvent is emitted whenever a Monitor-policy rule matches.
type MonitorEvent struct {
	Frame  frame.Frame
	Origin Side
	Rule   *FilterRule
}

// NIU bridges two independent bus instances by matching every frame
// crossing it against an ordered filter-rule list.
type NIU struct {
	mu  sync.Mutex
	log *logrus.Entry

	rules         []*FilterRule
	mode          FilterMode // destination-specific default
	broadcastMode FilterMode // broadcast default
	resolver      Resolver

	now time.Duration

	forwarded uint64
	blocked   uint64

	sendTractor   func(frame.Frame) error
	sendImplement func(frame.Frame) error

	monitorEvents *event.Subscribers[MonitorEvent]
}

// New constructs an NIU with the given default mode and bus send
// functions.
func New(mode FilterMode, resolver Resolver, sendTractor, sendImplement func(frame.Frame) error) *NIU {
	return &NIU{
		log:           logrus.WithField("component", "niu"),
		mode:          mode,
		broadcastMode: mode,
		resolver:      resolver,
		sendTractor:   sendTractor,
		sendImplement: sendImplement,
		monitorEvents: event.NewSubscribers[MonitorEvent](),
	}
}

// OnMonitor registers a callback fired whenever a Monitor-policy rule
// matches a frame.
func (n *NIU) OnMonitor(fn func(MonitorEvent)) event.Handle {
	return n.monitorEvents.Subscribe(fn)
}

// Stats returns the running forwarded/blocked counters.
func (n *NIU) Stats() (forwarded, blocked uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.forwarded, n.blocked
}

// AddFilter appends a rule to the end of the filter database (first
// match wins, so earlier rules take precedence).
func (n *NIU) AddFilter(r FilterRule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rc := r
	n.rules = append(n.rules, &rc)
}

// DeleteFilter removes the rule at index i.
func (n *NIU) DeleteFilter(i int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i < 0 || i >= len(n.rules) {
		return
	}
	n.rules = append(n.rules[:i], n.rules[i+1:]...)
}

// DeleteAllFilters empties the filter database.
func (n *NIU) DeleteAllFilters() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules = nil
}

// SetFilterMode changes the default policy applied when no rule
// matches, for both broadcast and destination-specific frames.
func (n *NIU) SetFilterMode(mode FilterMode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = mode
	n.broadcastMode = mode
}

// SetDefaultModes sets the no-rule-match defaults separately for
// broadcast and destination-specific frames.
func (n *NIU) SetDefaultModes(broadcast, destinationSpecific FilterMode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcastMode = broadcast
	n.mode = destinationSpecific
}

// Filters returns a snapshot of the current rule list, in match order.
func (n *NIU) Filters() []FilterRule {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]FilterRule, len(n.rules))
	for i, r := range n.rules {
		out[i] = *r
	}
	return out
}

// Update advances the NIU's internal clock, used for rule rate
// limiting.
func (n *NIU) Update(elapsed time.Duration) {
	n.mu.Lock()
	n.now += elapsed
	n.mu.Unlock()
}

// ProcessFrame resolves the (policy, rate-limited) pair for a frame
// arriving from origin and acts on it: Allow forwards to the other
// side, Block drops, Monitor forwards and emits an event.
func (n *NIU) ProcessFrame(f frame.Frame, origin Side) {
	policy, rule, rateLimited := n.match(f, origin)

	if rateLimited {
		n.mu.Lock()
		n.blocked++
		n.mu.Unlock()
		return
	}

	switch policy {
	case Allow:
		n.forward(f, origin)
		n.mu.Lock()
		n.forwarded++
		n.mu.Unlock()
	case Monitor:
		n.forward(f, origin)
		n.mu.Lock()
		n.forwarded++
		n.mu.Unlock()
		n.monitorEvents.Emit(MonitorEvent{Frame: f, Origin: origin, Rule: rule})
	default:
		n.mu.Lock()
		n.blocked++
		n.mu.Unlock()
	}
}

func (n *NIU) forward(f frame.Frame, origin Side) {
	var send func(frame.Frame) error
	if origin == TractorSide {
		send = n.sendImplement
	} else {
		send = n.sendTractor
	}
	if send != nil {
		_ = send(f)
	}
}

// match finds the first rule whose PGN (or PGN 0 for NAME-only rules),
// direction, and NAME predicates match the frame, and reports whether
// that match is currently rate-limited. No match falls back to the
// default filter mode.
func (n *NIU) match(f frame.Frame, origin Side) (Policy, *FilterRule, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	pgn := f.PGN()
	for _, r := range n.rules {
		if r.PGN != 0 && r.PGN != pgn {
			continue
		}
		if !r.Bidirectional && origin != TractorSide {
			// Unidirectional rules are defined tractor -> implement
			// unless marked bidirectional.
			continue
		}
		if !n.namesMatch(r, f) {
			continue
		}

		rateLimited := false
		if r.MinInterval > 0 {
			if r.everForwarded && n.now-r.lastForward < r.MinInterval {
				rateLimited = true
			}
		}
		if !rateLimited {
			r.lastForward = n.now
			r.everForwarded = true
		}
		return r.Policy, r, rateLimited
	}

	mode := n.mode
	if f.IsBroadcast() {
		mode = n.broadcastMode
	}
	if mode == PassAll {
		return Allow, nil, false
	}
	return Block, nil, false
}

func (n *NIU) namesMatch(r *FilterRule, f frame.Frame) bool {
	if r.SourceName != nil {
		addr, ok := n.resolver.ResolveAddress(*r.SourceName)
		if !ok || addr != f.Source() {
			return false
		}
	}
	if r.DestName != nil {
		addr, ok := n.resolver.ResolveAddress(*r.DestName)
		if !ok || addr != f.Destination() {
			return false
		}
	}
	return true
}

// SavePersistent writes every rule with Persistent=true to path as a
// concatenation of 22-byte filter records.
func (n *NIU) SavePersistent(path string) error {
	n.mu.Lock()
	var buf []byte
	for _, r := range n.rules {
		if !r.Persistent {
			continue
		}
		enc := r.Encode()
		buf = append(buf, enc[:]...)
	}
	n.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadPersistent loads filter records from path, appending them to the
// current rule set.
func (n *NIU) LoadPersistent(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for i := 0; i+filterRecordSize <= len(raw); i += filterRecordSize {
		var rec [filterRecordSize]byte
		copy(rec[:], raw[i:i+filterRecordSize])
		n.AddFilter(DecodeFilterRule(rec))
	}
	return nil
}
