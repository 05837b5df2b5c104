// Package safety implements an independent liveness-tracking and
// escalation engine: components register the safety sources they
// depend on, report aliveness, and the engine escalates
// Normal -> Degraded -> Emergency as sources go stale. It keeps a
// per-source table of last-seen timestamps, generalized to
// named safety sources carrying their own max-age, escalation delay,
// and degraded action.
package safety

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/event"
)

// Action is the degraded-mode response associated with a safety
// source, ordered by severity.
type Action uint8

const (
	HoldLast Action = iota
	RampDown
	Immediate
	Disable
)

// State is the engine's escalation state.
type State uint8

const (
	Normal State = iota
	Degraded
	Emergency
	Shutdown
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Degraded:
		return "degraded"
	case Emergency:
		return "emergency"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// SourceSpec registers one safety source to monitor.
type SourceSpec struct {
	Name            string
	MaxAge          time.Duration
	EscalationDelay time.Duration
	Action          Action
}

type source struct {
	spec      SourceSpec
	age       time.Duration
	everAlive bool
}

func (s *source) stale() bool {
	return !s.everAlive || s.age > s.spec.MaxAge
}

// Engine tracks every registered source's freshness and escalates the
// shared safety state as sources go stale.
type Engine struct {
	mu  sync.Mutex
	log *logrus.Entry

	sources map[string]*source
	sm      *event.StateMachine[State]

	degradedElapsed time.Duration
}

// New constructs an empty Engine, starting in Normal.
func New() *Engine {
	return &Engine{
		log:     logrus.WithField("component", "safety"),
		sources: make(map[string]*source),
		sm:      event.NewStateMachine(Normal),
	}
}

// RequireFreshness registers a safety source. Registering an existing
// name replaces its spec and resets its observed age.
func (e *Engine) RequireFreshness(spec SourceSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[spec.Name] = &source{spec: spec}
}

// ReportAlive records that name was observed alive just now.
func (e *Engine) ReportAlive(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	src, ok := e.sources[name]
	if !ok {
		return
	}
	src.age = 0
	src.everAlive = true
}

// State returns the engine's current escalation state.
func (e *Engine) State() State {
	return e.sm.Current()
}

// OnTransition registers a callback fired on every escalation state
// change.
func (e *Engine) OnTransition(fn func(event.Transition[State])) event.Handle {
	return e.sm.OnTransition(fn)
}

// CurrentAction returns the most severe action among currently stale
// sources, and whether any source is stale at all.
func (e *Engine) CurrentAction() (Action, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentActionLocked()
}

func (e *Engine) currentActionLocked() (Action, bool) {
	var (
		worst  Action
		anyOne bool
	)
	for _, src := range e.sources {
		if !src.stale() {
			continue
		}
		if !anyOne || src.spec.Action > worst {
			worst = src.spec.Action
		}
		anyOne = true
	}
	return worst, anyOne
}

func (e *Engine) maxEscalationDelayLocked() time.Duration {
	var worst time.Duration
	for _, src := range e.sources {
		if !src.stale() {
			continue
		}
		if src.spec.EscalationDelay > worst {
			worst = src.spec.EscalationDelay
		}
	}
	return worst
}

// Update ages every registered source and runs the escalation
// machinery.
func (e *Engine) Update(elapsed time.Duration) {
	e.mu.Lock()
	for _, src := range e.sources {
		src.age += elapsed
	}

	state := e.sm.Current()
	if state == Emergency || state == Shutdown {
		e.mu.Unlock()
		return
	}

	_, anyStale := e.currentActionLocked()

	switch state {
	case Normal:
		if anyStale {
			e.degradedElapsed = 0
			e.mu.Unlock()
			e.sm.Transition(Degraded)
			return
		}
	case Degraded:
		if !anyStale {
			e.mu.Unlock()
			e.sm.Transition(Normal)
			return
		}
		e.degradedElapsed += elapsed
		maxDelay := e.maxEscalationDelayLocked()
		if e.degradedElapsed > maxDelay {
			e.mu.Unlock()
			e.sm.Transition(Emergency)
			return
		}
	}
	e.mu.Unlock()
}

// TriggerEmergency jumps straight to Emergency from any non-terminal
// state, regardless of source freshness.
func (e *Engine) TriggerEmergency(reason string) {
	if e.State() == Shutdown {
		return
	}
	e.log.WithField("reason", reason).Warn("safety emergency triggered")
	e.sm.Transition(Emergency)
}

// Shutdown moves the engine to its terminal Shutdown state.
func (e *Engine) Shutdown() {
	e.sm.Transition(Shutdown)
}

// ResetToNormal is the only way out of Emergency/Shutdown: it clears
// every source's staleness bookkeeping and returns to Normal.
func (e *Engine) ResetToNormal() {
	e.mu.Lock()
	for _, src := range e.sources {
		src.age = 0
		src.everAlive = false
	}
	e.degradedElapsed = 0
	e.mu.Unlock()
	e.sm.Transition(Normal)
}
