package fileserver

import "sync"

// OpenFile is server-side bookkeeping for one open handle.
type OpenFile struct {
	Handle   uint8
	Client   uint8
	Path     string
	IsDir    bool
	ReadOnly bool
	Position uint32
}

// handleTable allocates and tracks open file handles, sequential and
// wrapping, skipping 0x00 and 0xFF and any handle already in use, and
// enforcing per-client and server-wide open limits.
type handleTable struct {
	mu sync.Mutex

	maxPerClient int
	maxTotal     int

	next    uint8
	files   map[uint8]*OpenFile
	byClient map[uint8]int
}

func newHandleTable(maxPerClient, maxTotal int) *handleTable {
	return &handleTable{
		maxPerClient: maxPerClient,
		maxTotal:     maxTotal,
		next:         1,
		files:        make(map[uint8]*OpenFile),
		byClient:     make(map[uint8]int),
	}
}

// Open allocates a new handle for client, or returns TooManyOpen /
// MaxHandles if either limit is already reached.
func (t *handleTable) Open(client uint8, path string, isDir, readOnly bool) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.files) >= t.maxTotal {
		return nil, fsErr(MaxHandles)
	}
	if t.byClient[client] >= t.maxPerClient {
		return nil, fsErr(TooManyOpen)
	}

	h, ok := t.allocate()
	if !ok {
		return nil, fsErr(MaxHandles)
	}

	of := &OpenFile{Handle: h, Client: client, Path: path, IsDir: isDir, ReadOnly: readOnly}
	t.files[h] = of
	t.byClient[client]++
	return of, nil
}

// allocate finds the next free handle, skipping 0x00, 0xFF, and any
// handle currently in use. Must be called with t.mu held.
func (t *handleTable) allocate() (uint8, bool) {
	start := t.next
	for {
		h := t.next
		t.next++
		if t.next == 0x00 {
			t.next = 0x01
		}
		if h != 0x00 && h != 0xFF {
			if _, inUse := t.files[h]; !inUse {
				return h, true
			}
		}
		if t.next == start {
			return 0, false
		}
	}
}

// Get returns the open file for a handle.
func (t *handleTable) Get(handle uint8) (*OpenFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[handle]
	return of, ok
}

// Close releases a handle.
func (t *handleTable) Close(handle uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[handle]
	if !ok {
		return fsErr(InvalidHandle)
	}
	delete(t.files, handle)
	t.byClient[of.Client]--
	if t.byClient[of.Client] <= 0 {
		delete(t.byClient, of.Client)
	}
	return nil
}

// CloseAllForClient force-closes every handle owned by client,
// returning the handles that were closed (used on CCM disconnect).
func (t *handleTable) CloseAllForClient(client uint8) []uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var closed []uint8
	for h, of := range t.files {
		if of.Client == client {
			closed = append(closed, h)
			delete(t.files, h)
		}
	}
	delete(t.byClient, client)
	return closed
}

// CloseAll force-closes every open handle (used on forced volume
// removal), returning the handles that were closed.
func (t *handleTable) CloseAll() []uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var closed []uint8
	for h := range t.files {
		closed = append(closed, h)
	}
	t.files = make(map[uint8]*OpenFile)
	t.byClient = make(map[uint8]int)
	return closed
}

// Count returns the total number of currently open handles.
func (t *handleTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}
