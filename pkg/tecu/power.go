package tecu

import (
	"sync"
	"time"

	"github.com/isobusgo/isostack/pkg/event"
)

// PowerState is one of the four power-management states.
type PowerState uint8

const (
	PowerOff PowerState = iota
	IgnitionOn
	ShutdownInitiated
	FinalShutdown
)

func (s PowerState) String() string {
	switch s {
	case PowerOff:
		return "power_off"
	case IgnitionOn:
		return "ignition_on"
	case ShutdownInitiated:
		return "shutdown_initiated"
	case FinalShutdown:
		return "final_shutdown"
	default:
		return "unknown"
	}
}

type maintainRequest struct {
	ecuPwr, pwr bool
	remaining   time.Duration
}

// PowerManager drives the tractor's ECU_PWR/PWR rail state machine.
type PowerManager struct {
	mu sync.Mutex
	sm *event.StateMachine[PowerState]

	shutdownMaxTime time.Duration
	maintainTimeout time.Duration

	shutdownElapsed time.Duration
	holdElapsed     time.Duration

	requests map[uint8]*maintainRequest

	ecuPwr bool
	pwr    bool
}

// NewPowerManager constructs a PowerManager starting in PowerOff.
func NewPowerManager(shutdownMaxTime, maintainTimeout time.Duration) *PowerManager {
	return &PowerManager{
		sm:              event.NewStateMachine(PowerOff),
		shutdownMaxTime: shutdownMaxTime,
		maintainTimeout: maintainTimeout,
		requests:        make(map[uint8]*maintainRequest),
	}
}

// State returns the current power state.
func (p *PowerManager) State() PowerState { return p.sm.Current() }

// OnTransition registers a callback fired on every power-state change.
func (p *PowerManager) OnTransition(fn func(event.Transition[PowerState])) event.Handle {
	return p.sm.OnTransition(fn)
}

// Rails returns the current ECU_PWR and PWR rail assertion state.
func (p *PowerManager) Rails() (ecuPwr, pwr bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ecuPwr, p.pwr
}

// SetKeySwitch drives the key-switch input. Raising it from PowerOff or
// FinalShutdown asserts both rails and enters IgnitionOn; FinalShutdown
// only exits on the next key-on. Lowering it from IgnitionOn begins the
// shutdown sequence.
func (p *PowerManager) SetKeySwitch(on bool) {
	p.mu.Lock()
	state := p.sm.Current()
	if on {
		if state == PowerOff || state == FinalShutdown {
			p.ecuPwr, p.pwr = true, true
			p.shutdownElapsed = 0
			p.holdElapsed = 0
			p.requests = make(map[uint8]*maintainRequest)
			p.mu.Unlock()
			p.sm.Transition(IgnitionOn)
			return
		}
		p.mu.Unlock()
		return
	}
	if state == IgnitionOn {
		p.shutdownElapsed = 0
		p.holdElapsed = 0
		p.mu.Unlock()
		p.sm.Transition(ShutdownInitiated)
		return
	}
	p.mu.Unlock()
}

// RequestMaintain records a maintain-power request from control
// function addr, valid only in ShutdownInitiated; it expires after
// maintainTimeout unless refreshed.
func (p *PowerManager) RequestMaintain(addr uint8, ecuPwr, pwr bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sm.Current() != ShutdownInitiated {
		return
	}
	p.requests[addr] = &maintainRequest{ecuPwr: ecuPwr, pwr: pwr, remaining: p.maintainTimeout}
}

// Update advances the shutdown timers. During the initial
// maintainTimeout hold window both rails stay asserted regardless of
// requests; afterward the rails track the logical OR of live maintain
// requests, and FinalShutdown is entered once no request remains live
// or shutdownMaxTime elapses, whichever comes first.
func (p *PowerManager) Update(elapsed time.Duration) {
	p.mu.Lock()
	if p.sm.Current() != ShutdownInitiated {
		p.mu.Unlock()
		return
	}

	p.shutdownElapsed += elapsed
	if p.holdElapsed < p.maintainTimeout {
		p.holdElapsed += elapsed
	} else {
		for addr, r := range p.requests {
			r.remaining -= elapsed
			if r.remaining <= 0 {
				delete(p.requests, addr)
			}
		}
		var ecuPwr, pwr bool
		for _, r := range p.requests {
			ecuPwr = ecuPwr || r.ecuPwr
			pwr = pwr || r.pwr
		}
		p.ecuPwr, p.pwr = ecuPwr, pwr
	}

	finalize := p.shutdownElapsed >= p.shutdownMaxTime ||
		(p.holdElapsed >= p.maintainTimeout && len(p.requests) == 0)
	p.mu.Unlock()

	if finalize {
		p.mu.Lock()
		p.ecuPwr, p.pwr = false, false
		p.mu.Unlock()
		p.sm.Transition(FinalShutdown)
	}
}
