package fileserver

import (
	"sync"
	"time"

	"github.com/isobusgo/isostack/pkg/event"
)

// VolumeState is one of the four volume removal states.
type VolumeState uint8

const (
	VolumePresent VolumeState = iota
	VolumeInUse
	VolumePreparingForRemoval
	VolumeRemoved
)

func (s VolumeState) String() string {
	switch s {
	case VolumePresent:
		return "present"
	case VolumeInUse:
		return "in_use"
	case VolumePreparingForRemoval:
		return "preparing_for_removal"
	case VolumeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Volume tracks one backing volume's state and open-file count,
// driven by the shared event.StateMachine generic (see DESIGN.md).
type Volume struct {
	mu sync.Mutex

	sm *event.StateMachine[VolumeState]

	openFiles      int
	maintainUntil  map[uint8]time.Duration // per-client maintain-volume deadline
	removalElapsed time.Duration
	maxRemoval     time.Duration

	onStatusChange func(VolumeState)
}

// NewVolume constructs a volume starting in Present.
func NewVolume(maxRemovalTime time.Duration) *Volume {
	return &Volume{
		sm:            event.NewStateMachine(VolumePresent),
		maintainUntil: make(map[uint8]time.Duration),
		maxRemoval:    maxRemovalTime,
	}
}

// OnStatusChange registers a callback fired whenever the volume's
// state changes, used to broadcast a volume-status message.
func (v *Volume) OnStatusChange(fn func(VolumeState)) {
	v.mu.Lock()
	v.onStatusChange = fn
	v.mu.Unlock()
}

func (v *Volume) transition(to VolumeState) {
	if v.sm.Transition(to) && v.onStatusChange != nil {
		v.onStatusChange(to)
	}
}

// State returns the volume's current state.
func (v *Volume) State() VolumeState {
	return v.sm.Current()
}

// FileOpened records a file open, moving Present -> InUse on the
// first open.
func (v *Volume) FileOpened() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.openFiles++
	if v.sm.Current() == VolumePresent {
		v.transition(VolumeInUse)
	}
}

// FileClosed records a file close, moving InUse -> Present when the
// last file closes, or advancing a pending removal.
func (v *Volume) FileClosed() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.openFiles > 0 {
		v.openFiles--
	}
	switch v.sm.Current() {
	case VolumeInUse:
		if v.openFiles == 0 {
			v.transition(VolumePresent)
		}
	case VolumePreparingForRemoval:
		v.maybeFinishRemoval()
	}
}

// RequestMaintain records a maintain-volume request from a client,
// valid while PreparingForRemoval, extending the window the removal
// waits before force-closing files.
func (v *Volume) RequestMaintain(client uint8, deadline time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maintainUntil[client] = deadline
}

// RequestMaintainFor records a maintain-volume request window relative
// to the removal timer's current elapsed time, so callers never need
// to read the volume's internal clock directly.
func (v *Volume) RequestMaintainFor(client uint8, window time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maintainUntil[client] = v.removalElapsed + window
}

// PrepareForRemoval moves Present or InUse into PreparingForRemoval.
func (v *Volume) PrepareForRemoval() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.sm.Current() {
	case VolumePresent, VolumeInUse:
		v.removalElapsed = 0
		v.transition(VolumePreparingForRemoval)
		return nil
	default:
		return fsErr(InvalidAccess)
	}
}

// Reinsert moves Removed back to Present.
func (v *Volume) Reinsert() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sm.Current() != VolumeRemoved {
		return fsErr(InvalidAccess)
	}
	v.openFiles = 0
	v.maintainUntil = make(map[uint8]time.Duration)
	v.transition(VolumePresent)
	return nil
}

// Update advances the removal timer; when it elapses, or no files
// remain open and no maintain request is still pending, the volume
// force-closes any remaining files and becomes Removed.
func (v *Volume) Update(elapsed time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sm.Current() != VolumePreparingForRemoval {
		return
	}
	v.removalElapsed += elapsed
	for client, deadline := range v.maintainUntil {
		if v.removalElapsed >= deadline {
			delete(v.maintainUntil, client)
		}
	}
	if v.removalElapsed > v.maxRemoval {
		v.openFiles = 0
		v.maintainUntil = make(map[uint8]time.Duration)
		v.transition(VolumeRemoved)
		return
	}
	v.maybeFinishRemoval()
}

func (v *Volume) maybeFinishRemoval() {
	if v.openFiles == 0 && len(v.maintainUntil) == 0 {
		v.transition(VolumeRemoved)
	}
}
