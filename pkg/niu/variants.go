package niu

import (
	"sync"

	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// Repeater is the simplest NIU variant: every frame crosses
// unconditionally and unmodified, subject only to the filter
// database's explicit Block/Monitor rules. It runs its embedded NIU in
// PassAll mode and adds nothing of its own.
type Repeater struct {
	*NIU
}

// NewRepeater constructs a Repeater over sendTractor/sendImplement.
func NewRepeater(resolver Resolver, sendTractor, sendImplement func(frame.Frame) error) *Repeater {
	return &Repeater{NIU: New(PassAll, resolver, sendTractor, sendImplement)}
}

// Bridge learns which side each source address lives on from observed
// traffic and defaults to blocking anything it has not already seen
// cross in the other direction, an implicit allow list layered on top
// of the explicit filter database.
type Bridge struct {
	*NIU
	mu      sync.Mutex
	learned map[uint8]Side
}

// NewBridge constructs a Bridge defaulting to BlockAll until an address
// is learned.
func NewBridge(resolver Resolver, sendTractor, sendImplement func(frame.Frame) error) *Bridge {
	return &Bridge{
		NIU:     New(BlockAll, resolver, sendTractor, sendImplement),
		learned: make(map[uint8]Side),
	}
}

// Learn records that addr was observed transmitting from side. Once
// learned, frames destined for addr are implicitly allowed regardless
// of the default filter mode.
func (b *Bridge) Learn(addr uint8, side Side) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.learned[addr] = side
}

// ProcessFrame learns the source address's side, then implicitly
// allows the frame if its destination is a previously learned address
// on the other side, before falling back to the embedded NIU's filter
// database.
func (b *Bridge) ProcessFrame(f frame.Frame, origin Side) {
	b.Learn(f.Source(), origin)

	if !f.IsBroadcast() {
		b.mu.Lock()
		destSide, known := b.learned[f.Destination()]
		b.mu.Unlock()
		if known && destSide == origin.Other() {
			b.forward(f, origin)
			b.mu.Lock()
			b.NIU.forwarded++
			b.mu.Unlock()
			return
		}
	}

	b.NIU.ProcessFrame(f, origin)
}

// Router maintains an explicit NAME -> (tractor address, implement
// address) translation table and rewrites the source/destination
// addresses of every forwarded frame, so the same control function can
// appear under different addresses on each side.
type Router struct {
	*NIU
	mu           sync.Mutex
	translations map[network.NAME]routerEntry
}

type routerEntry struct {
	tractorAddr   uint8
	implementAddr uint8
}

// NewRouter constructs a Router.
func NewRouter(resolver Resolver, sendTractor, sendImplement func(frame.Frame) error) *Router {
	return &Router{
		NIU:          New(PassAll, resolver, sendTractor, sendImplement),
		translations: make(map[network.NAME]routerEntry),
	}
}

// AddTranslation registers the address pair a control function
// identified by name uses on each side.
func (r *Router) AddTranslation(name network.NAME, tractorAddr, implementAddr uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translations[name] = routerEntry{tractorAddr: tractorAddr, implementAddr: implementAddr}
}

// ProcessFrame rewrites the frame's source/destination addresses per
// the translation table (when the source NAME is known) before
// applying the embedded NIU's filter database and forwarding.
func (r *Router) ProcessFrame(f frame.Frame, origin Side) {
	policy, rule, rateLimited := r.NIU.match(f, origin)
	if rateLimited {
		r.NIU.mu.Lock()
		r.NIU.blocked++
		r.NIU.mu.Unlock()
		return
	}
	if policy == Block {
		r.NIU.mu.Lock()
		r.NIU.blocked++
		r.NIU.mu.Unlock()
		return
	}

	out := r.translate(f, origin)

	r.forward(out, origin)
	r.NIU.mu.Lock()
	r.NIU.forwarded++
	r.NIU.mu.Unlock()

	if policy == Monitor {
		r.monitorEvents.Emit(MonitorEvent{Frame: out, Origin: origin, Rule: rule})
	}
}

func (r *Router) translate(f frame.Frame, origin Side) frame.Frame {
	sourceName, ok := r.resolveName(f.Source())
	if !ok {
		return f
	}
	r.mu.Lock()
	entry, known := r.translations[sourceName]
	r.mu.Unlock()
	if !known {
		return f
	}

	newSource := entry.implementAddr
	if origin == ImplementSide {
		newSource = entry.tractorAddr
	}

	dest := f.Destination()
	if !f.IsBroadcast() {
		if destName, ok := r.resolveName(dest); ok {
			r.mu.Lock()
			destEntry, destKnown := r.translations[destName]
			r.mu.Unlock()
			if destKnown {
				dest = destEntry.tractorAddr
				if origin == ImplementSide {
					dest = destEntry.implementAddr
				}
			}
		}
	}

	out, err := frame.FromMessage(f.Priority(), f.PGN(), newSource, dest, f.Payload())
	if err != nil {
		return f
	}
	return out
}

// resolveName is a best-effort reverse lookup: the Router only knows
// forward NAME->address resolution via Resolver, so it searches its
// own translation table for an address match instead of requiring a
// second reverse-lookup seam.
func (r *Router) resolveName(addr uint8) (network.NAME, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, entry := range r.translations {
		if entry.tractorAddr == addr || entry.implementAddr == addr {
			return name, true
		}
	}
	return 0, false
}

// TransformFunc may rewrite or drop a frame crossing a Gateway. It
// returns the (possibly modified) frame and whether it should still be
// forwarded.
type TransformFunc func(f frame.Frame, origin Side) (frame.Frame, bool)

// Gateway applies a per-PGN transform callback to matching frames
// before forwarding, allowing protocol translation or payload
// rewriting at the boundary.
type Gateway struct {
	*NIU
	mu         sync.Mutex
	transforms map[uint32]TransformFunc
}

// NewGateway constructs a Gateway.
func NewGateway(mode FilterMode, resolver Resolver, sendTractor, sendImplement func(frame.Frame) error) *Gateway {
	return &Gateway{
		NIU:        New(mode, resolver, sendTractor, sendImplement),
		transforms: make(map[uint32]TransformFunc),
	}
}

// RegisterTransform installs fn as the transform applied to frames
// with the given PGN as they cross the Gateway.
func (g *Gateway) RegisterTransform(pgn uint32, fn TransformFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transforms[pgn] = fn
}

// ProcessFrame applies the filter database, then any registered
// transform for the frame's PGN, before forwarding.
func (g *Gateway) ProcessFrame(f frame.Frame, origin Side) {
	policy, rule, rateLimited := g.NIU.match(f, origin)
	if rateLimited || policy == Block {
		g.NIU.mu.Lock()
		g.NIU.blocked++
		g.NIU.mu.Unlock()
		return
	}

	out := f
	g.mu.Lock()
	fn, ok := g.transforms[f.PGN()]
	g.mu.Unlock()
	if ok {
		var keep bool
		out, keep = fn(f, origin)
		if !keep {
			g.NIU.mu.Lock()
			g.NIU.blocked++
			g.NIU.mu.Unlock()
			return
		}
	}

	g.forward(out, origin)
	g.NIU.mu.Lock()
	g.NIU.forwarded++
	g.NIU.mu.Unlock()

	if policy == Monitor {
		g.monitorEvents.Emit(MonitorEvent{Frame: out, Origin: origin, Rule: rule})
	}
}
