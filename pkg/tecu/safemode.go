package tecu

import (
	"sync"

	"github.com/isobusgo/isostack/pkg/event"
)

// Actions is the set of failsafe operations triggered when safe-mode
// is entered: disengage both PTOs, neutralize both
// hitches, close every supported aux valve. An external collaborator
// (the actual hitch/PTO/valve actuation layer) implements this.
type Actions interface {
	DisengagePTO(front bool)
	NeutralizeHitch(front bool)
	CloseAuxValve(index int)
}

// SafeModeEvent is emitted whenever safe-mode is triggered or cleared.
type SafeModeEvent struct {
	Active bool
	Reason string
}

// SafeMode is a one-shot latch: triggering it runs the failsafe
// actions once, and clearing it only resets the latch without
// re-engaging anything.
type SafeMode struct {
	mu     sync.Mutex
	active bool
	reason string

	actions Actions
	events  *event.Subscribers[SafeModeEvent]
}

// NewSafeMode constructs a SafeMode bound to the given actions.
func NewSafeMode(actions Actions) *SafeMode {
	return &SafeMode{actions: actions, events: event.NewSubscribers[SafeModeEvent]()}
}

// OnEvent registers a callback fired on every trigger/clear.
func (s *SafeMode) OnEvent(fn func(SafeModeEvent)) event.Handle {
	return s.events.Subscribe(fn)
}

// Active reports whether safe-mode is currently latched.
func (s *SafeMode) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Trigger executes the failsafe actions and latches safe-mode,
// regardless of whether it was already active (a second trigger
// re-runs the failsafe actions with the new reason).
func (s *SafeMode) Trigger(reason string, facilities Facilities) {
	s.mu.Lock()
	s.active = true
	s.reason = reason
	s.mu.Unlock()

	if s.actions != nil {
		s.actions.DisengagePTO(false)
		if facilities.FrontPTOSpeed {
			s.actions.DisengagePTO(true)
		}
		s.actions.NeutralizeHitch(false)
		if facilities.FrontHitchPosition {
			s.actions.NeutralizeHitch(true)
		}
		for i, av := range facilities.AuxValves {
			if av.Flow || av.Command {
				s.actions.CloseAuxValve(i)
			}
		}
	}

	s.events.Emit(SafeModeEvent{Active: true, Reason: reason})
}

// Clear releases the latch without undoing the failsafe actions.
func (s *SafeMode) Clear() {
	s.mu.Lock()
	s.active = false
	reason := s.reason
	s.mu.Unlock()
	s.events.Emit(SafeModeEvent{Active: false, Reason: reason})
}
