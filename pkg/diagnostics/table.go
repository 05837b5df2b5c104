package diagnostics

import "sync"

// freezeFrameRing is a fixed-capacity FIFO of freeze frames for one
// DTC, oldest evicted first.
type freezeFrameRing struct {
	frames []FreezeFrame // frames[0] is most recent
	depth  int
}

func newFreezeFrameRing(depth int) *freezeFrameRing {
	return &freezeFrameRing{depth: depth}
}

func (r *freezeFrameRing) push(f FreezeFrame) {
	r.frames = append([]FreezeFrame{f}, r.frames...)
	if len(r.frames) > r.depth {
		r.frames = r.frames[:r.depth]
	}
}

func (r *freezeFrameRing) at(index int) (FreezeFrame, bool) {
	if index < 0 || index >= len(r.frames) {
		return FreezeFrame{}, false
	}
	return r.frames[index], true
}

// Table tracks active and previously-active DTCs plus their freeze
// frames. MaxFreezeFramesPerDTC bounds ring depth.
type Table struct {
	mu sync.Mutex

	maxFreezeFrames int
	autoCapture     bool

	active           map[dtcKey]*DTC
	previouslyActive map[dtcKey]*DTC
	freezeFrames     map[dtcKey]*freezeFrameRing
	lamps            LampStatus
}

// NewTable constructs an empty DTC table. autoCapture controls whether
// SetActive takes a freeze frame automatically on activation.
func NewTable(maxFreezeFrames int, autoCapture bool) *Table {
	return &Table{
		maxFreezeFrames:  maxFreezeFrames,
		autoCapture:      autoCapture,
		active:           make(map[dtcKey]*DTC),
		previouslyActive: make(map[dtcKey]*DTC),
		freezeFrames:     make(map[dtcKey]*freezeFrameRing),
	}
}

// SetActive inserts a new active DTC (occurrence count 1) or, if
// (SPN,FMI) is already active, increments its occurrence count
// (saturating at 126). If capture is non-nil it is stored as a new
// freeze frame for this activation, regardless of autoCapture — the
// caller decides what values to snapshot.
func (t *Table) SetActive(spn uint32, fmi uint8, capture []SPNValue, timestamp uint64) DTC {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := keyOf(spn, fmi)
	d, exists := t.active[k]
	if !exists {
		d = &DTC{SPN: spn, FMI: fmi, OccurrenceCount: 1}
		t.active[k] = d
	} else if d.OccurrenceCount < maxOccurrenceCount {
		d.OccurrenceCount++
	}

	if (!exists && t.autoCapture) || capture != nil {
		ring, ok := t.freezeFrames[k]
		if !ok {
			ring = newFreezeFrameRing(t.maxFreezeFrames)
			t.freezeFrames[k] = ring
		}
		ring.push(FreezeFrame{DTC: *d, Timestamp: timestamp, Snapshots: capture})
	}
	return *d
}

// ClearActive moves an active DTC to previously-active, preserving its
// occurrence count. Freeze frames are retained unchanged across the
// transition. Reports false if the DTC was not active.
func (t *Table) ClearActive(spn uint32, fmi uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(spn, fmi)
	d, ok := t.active[k]
	if !ok {
		return false
	}
	delete(t.active, k)
	t.previouslyActive[k] = d
	return true
}

// ClearAllActive implements DM11: every active DTC moves to
// previously-active.
func (t *Table) ClearAllActive() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, d := range t.active {
		t.previouslyActive[k] = d
	}
	t.active = make(map[dtcKey]*DTC)
}

// ClearAllPreviouslyActive implements DM3.
func (t *Table) ClearAllPreviouslyActive() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.previouslyActive = make(map[dtcKey]*DTC)
}

// ClearOne implements DM22: clear a single DTC (from either list) by
// (SPN,FMI). Reports whether it existed.
func (t *Table) ClearOne(spn uint32, fmi uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(spn, fmi)
	_, inActive := t.active[k]
	_, inPrev := t.previouslyActive[k]
	delete(t.active, k)
	delete(t.previouslyActive, k)
	return inActive || inPrev
}

// Active returns a snapshot of every currently active DTC.
func (t *Table) Active() []DTC {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DTC, 0, len(t.active))
	for _, d := range t.active {
		out = append(out, *d)
	}
	return out
}

// PreviouslyActive returns a snapshot of every previously-active DTC.
func (t *Table) PreviouslyActive() []DTC {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DTC, 0, len(t.previouslyActive))
	for _, d := range t.previouslyActive {
		out = append(out, *d)
	}
	return out
}

// FreezeFrame returns the freeze frame at index (0 = most recent) for
// (spn,fmi).
func (t *Table) FreezeFrame(spn uint32, fmi uint8, index int) (FreezeFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring, ok := t.freezeFrames[keyOf(spn, fmi)]
	if !ok {
		return FreezeFrame{}, false
	}
	return ring.at(index)
}

// SetLampStatus overwrites the lamp header sent with DM1.
func (t *Table) SetLampStatus(l LampStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lamps = l
}

// LampStatus returns the current lamp header.
func (t *Table) LampStatus() LampStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lamps
}
