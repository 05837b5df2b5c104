package vt

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/isobusgo/isostack/pkg/event"
	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// PGNs used by the VT-to-ECU protocol (ISO 11783-6 §5.1).
const (
	PGNVTToECU = 0xE600
	PGNECUToVT = 0xE700
)

// Function bytes within PGNVTToECU this client interprets.
const (
	fnSoftKeyActivation = 0x00
	fnEndOfObjectPool   = 0x11
	fnChangeActiveMask  = 0x14
	fnVTStatus          = 0xFE
)

// ClientState is the VT client lifecycle state.
type ClientState uint8

const (
	StateDisconnected ClientState = iota
	StateWaitingForStatus
	StateUploading
	StateReady
	StateReloadPool
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateWaitingForStatus:
		return "waiting_for_status"
	case StateUploading:
		return "uploading"
	case StateReady:
		return "ready"
	case StateReloadPool:
		return "reload_pool"
	default:
		return "unknown"
	}
}

// AlarmEntry is one active alarm in the client's priority stack.
type AlarmEntry struct {
	ObjectID  uint16
	Priority  AlarmPriority
	Timestamp time.Time
}

// Mirror passively tracks the VT's displayed state as reported by
// status and response messages, without itself driving any wire
// traffic: a priority-ordered alarm stack plus flat maps of
// numeric/string/visibility/enable state per object id.
type Mirror struct {
	mu sync.Mutex

	activeDataMask  uint16
	activeSoftKey   uint16
	activeAlarmMask uint16

	numeric map[uint16]uint32
	strings map[uint16]string
	visible map[uint16]bool
	enabled map[uint16]bool

	alarms []AlarmEntry // kept sorted by (priority asc, timestamp asc)
}

func newMirror() *Mirror {
	return &Mirror{
		numeric: make(map[uint16]uint32),
		strings: make(map[uint16]string),
		visible: make(map[uint16]bool),
		enabled: make(map[uint16]bool),
	}
}

// ActiveMasks returns the currently active data mask, soft key mask,
// and alarm mask object ids.
func (m *Mirror) ActiveMasks() (dataMask, softKey, alarmMask uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeDataMask, m.activeSoftKey, m.activeAlarmMask
}

func (m *Mirror) setActiveDataMask(dataMask uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeDataMask = dataMask
}

func (m *Mirror) setActiveSoftKeyMask(softKey uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSoftKey = softKey
}

// NumericValue returns the last known numeric value for an object.
func (m *Mirror) NumericValue(id uint16) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.numeric[id]
	return v, ok
}

func (m *Mirror) setNumeric(id uint16, v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numeric[id] = v
}

// StringValue returns the last known string value for an object.
func (m *Mirror) StringValue(id uint16) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.strings[id]
	return v, ok
}

func (m *Mirror) setString(id uint16, v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[id] = v
}

// Visible reports whether an object was last reported as shown.
func (m *Mirror) Visible(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible[id]
}

func (m *Mirror) setVisible(id uint16, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible[id] = v
}

// Enabled reports whether an input object was last reported enabled.
func (m *Mirror) Enabled(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[id]
}

func (m *Mirror) setEnabled(id uint16, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[id] = v
}

// ActivateAlarm pushes a new alarm onto the stack, keeping it sorted by
// (priority ascending, timestamp ascending) so Alarms()[0] is always
// the most urgent, oldest alarm outstanding.
func (m *Mirror) ActivateAlarm(id uint16, priority AlarmPriority, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms = append(m.alarms, AlarmEntry{ObjectID: id, Priority: priority, Timestamp: at})
	sortAlarms(m.alarms)
}

// AcknowledgeAlarm pops the most urgent alarm (the one a VT operator
// acknowledgment resolves first) and returns it.
func (m *Mirror) AcknowledgeAlarm() (AlarmEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.alarms) == 0 {
		return AlarmEntry{}, false
	}
	top := m.alarms[0]
	m.alarms = m.alarms[1:]
	return top, true
}

// DeactivateAlarm removes a specific alarm by object id, wherever it
// sits in the stack.
func (m *Mirror) DeactivateAlarm(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.alarms {
		if a.ObjectID == id {
			m.alarms = append(m.alarms[:i], m.alarms[i+1:]...)
			return true
		}
	}
	return false
}

// Alarms returns a snapshot of the alarm stack in priority order.
func (m *Mirror) Alarms() []AlarmEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AlarmEntry, len(m.alarms))
	copy(out, m.alarms)
	return out
}

// sortAlarms is a small insertion sort: the alarm stack is rarely more
// than a handful of entries deep, and insertion sort keeps it ordered
// incrementally without pulling in sort.Slice for a handful of items.
func sortAlarms(a []AlarmEntry) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && alarmLess(a[j], a[j-1]); j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

func alarmLess(a, b AlarmEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Timestamp.Before(b.Timestamp)
}

// Client drives a VT working set's upload lifecycle:
// Disconnected -> WaitingForStatus -> Uploading -> Ready -> ReloadPool.
// Transitions are driven by incoming VT-status/response messages and
// by Update's elapsed-time timeout tracking, matching the cooperative
// scheduling model used throughout this module (no goroutine timers).
type Client struct {
	mu sync.Mutex

	log *logrus.Entry
	net *network.Manager
	sm  *event.StateMachine[ClientState]

	pool        *Pool
	pendingPool *Pool // set during ReloadPool until the VT confirms it

	vtAddress uint8

	statusTimeout   time.Duration
	sinceLastStatus time.Duration

	versions *VersionStore // optional, only needed for SwapPool's storeOld
	mirror   *Mirror
}

// clientVTVersion is the VT version this client negotiates and records
// in stored pool versions.
const clientVTVersion uint16 = 4

// NewClient constructs a VT client targeting the VT at vtAddress, using
// net for transport and statusTimeout as the maximum silence (default
// 3s, config.Timers.VTStatusTimeout) before the client reverts to
// Disconnected.
func NewClient(net *network.Manager, vtAddress uint8, statusTimeout time.Duration) *Client {
	c := &Client{
		log:           logrus.WithField("component", "vt_client"),
		net:           net,
		vtAddress:     vtAddress,
		statusTimeout: statusTimeout,
		sm:            event.NewStateMachine(StateDisconnected),
		mirror:        newMirror(),
	}
	c.net.RegisterPGNCallback(PGNVTToECU, c.handleVTMessage)
	return c
}

// AttachVersionStore gives the client a place to store the outgoing
// pool on SwapPool calls that request it.
func (c *Client) AttachVersionStore(vs *VersionStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions = vs
}

// State returns the client's current lifecycle state.
func (c *Client) State() ClientState { return c.sm.Current() }

// OnTransition forwards state-change notifications.
func (c *Client) OnTransition(fn func(event.Transition[ClientState])) event.Handle {
	return c.sm.OnTransition(fn)
}

// Mirror returns the client's passive display-state mirror.
func (c *Client) Mirror() *Mirror { return c.mirror }

// LoadPool begins uploading pool to the VT, valid only from
// Disconnected.
func (c *Client) LoadPool(pool *Pool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.Current() != StateDisconnected {
		return &ValidationError{Reason: "pool load only valid while disconnected"}
	}
	if err := pool.Validate(); err != nil {
		return err
	}
	c.pool = pool
	c.sm.Transition(StateWaitingForStatus)
	return nil
}

// SwapPool requests a new working set while Ready, transitioning
// through ReloadPool until the VT confirms the new pool. With storeOld
// set, the current pool is first stored under oldLabel in the attached
// version store so it can be re-activated later without a re-upload.
func (c *Client) SwapPool(newPool *Pool, storeOld bool, oldLabel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.Current() != StateReady {
		return &ValidationError{Reason: "pool swap only valid while ready"}
	}
	if newPool == nil || len(newPool.Objects()) == 0 {
		return &ValidationError{Reason: "cannot swap to an empty pool"}
	}
	if err := newPool.Validate(); err != nil {
		return err
	}
	if storeOld {
		if c.versions == nil {
			return &ValidationError{Reason: "no version store attached"}
		}
		if err := c.versions.StoreVersion(oldLabel, c.pool, clientVTVersion, time.Now()); err != nil {
			return err
		}
	}
	c.pendingPool = newPool
	c.sm.Transition(StateReloadPool)
	return nil
}

// NotifyLanguageChange moves a Ready client into ReloadPool without
// changing pools, mirroring the VT's own language-change behaviour
// (the working set is expected to re-upload localized strings).
func (c *Client) NotifyLanguageChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.Current() == StateReady {
		c.sm.Transition(StateReloadPool)
	}
}

func (c *Client) handleVTMessage(msg frame.Message) {
	if len(msg.Payload) == 0 || msg.Source != c.vtAddress {
		return
	}
	fn := msg.Payload[0]

	c.mu.Lock()
	defer c.mu.Unlock()

	switch fn {
	case fnVTStatus:
		c.sinceLastStatus = 0
		if c.sm.Current() == StateWaitingForStatus {
			c.sm.Transition(StateUploading)
		}
		if len(msg.Payload) >= 3 {
			c.mirror.setActiveDataMask(uint16(msg.Payload[1]) | uint16(msg.Payload[2])<<8)
		}
	case fnEndOfObjectPool:
		switch c.sm.Current() {
		case StateUploading:
			c.sm.Transition(StateReady)
		case StateReloadPool:
			if c.pendingPool != nil {
				c.pool = c.pendingPool
				c.pendingPool = nil
			}
			c.sm.Transition(StateReady)
		}
	case fnChangeActiveMask:
		if len(msg.Payload) >= 4 {
			c.mirror.setActiveDataMask(uint16(msg.Payload[2]) | uint16(msg.Payload[3])<<8)
		}
	case fnSoftKeyActivation:
		// key-code activation reports are display events the mirror
		// does not retain; they do not reset the status-silence timer.
	}
}

// Update advances the status-silence timer; a silence exceeding
// statusTimeout from any non-Disconnected state reverts the client to
// Disconnected.
func (c *Client) Update(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.Current() == StateDisconnected {
		return
	}
	c.sinceLastStatus += elapsed
	if c.sinceLastStatus >= c.statusTimeout {
		c.pool = nil
		c.pendingPool = nil
		c.sm.Transition(StateDisconnected)
	}
}
