package network

import (
	"sync"
	"time"

	"github.com/isobusgo/isostack/pkg/event"
)

// ClaimState is the address-claim state of a control function.
type ClaimState uint8

const (
	StateUnclaimed ClaimState = iota
	StateClaimingWait
	StateContending
	StateClaimed
	StateFailed
)

func (s ClaimState) String() string {
	switch s {
	case StateUnclaimed:
		return "unclaimed"
	case StateClaimingWait:
		return "claiming_wait"
	case StateContending:
		return "contending"
	case StateClaimed:
		return "claimed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ControlFunction is either internal (this node owns it and drives its
// claim) or external (observed via its own claims on the bus).
type ControlFunction struct {
	mu sync.Mutex

	name      NAME
	internal  bool
	preferred uint8
	address   *uint8

	sm *event.StateMachine[ClaimState]

	// claimWindow counts down while in StateClaimingWait; it is driven
	// by Manager.Update's elapsed-time argument rather than a real
	// timer, keeping the claim machinery single-threaded.
	claimWindow time.Duration

	// claiming is the address this control function is currently
	// announcing while in StateClaimingWait (not yet final until the
	// claim window expires without contention).
	claiming uint8
}

// NAME returns the control function's immutable identity.
func (cf *ControlFunction) NAME() NAME {
	return cf.name
}

// Address returns the current claimed address, or (0, false) if
// unclaimed.
func (cf *ControlFunction) Address() (uint8, bool) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if cf.address == nil {
		return 0, false
	}
	return *cf.address, true
}

// State returns the current claim state.
func (cf *ControlFunction) State() ClaimState {
	return cf.sm.Current()
}

// IsInternal reports whether this node owns (drives) the control
// function, as opposed to merely observing it on the bus.
func (cf *ControlFunction) IsInternal() bool {
	return cf.internal
}

// OnStateChange registers a callback fired on every claim-state
// transition.
func (cf *ControlFunction) OnStateChange(fn func(event.Transition[ClaimState])) event.Handle {
	return cf.sm.OnTransition(fn)
}

func newControlFunction(name NAME, preferred uint8, internal bool) *ControlFunction {
	return &ControlFunction{
		name:      name,
		internal:  internal,
		preferred: preferred,
		sm:        event.NewStateMachine(StateUnclaimed),
	}
}

func (cf *ControlFunction) setAddress(addr uint8) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	a := addr
	cf.address = &a
}

func (cf *ControlFunction) clearAddress() {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	cf.address = nil
}
