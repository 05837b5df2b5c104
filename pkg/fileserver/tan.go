package fileserver

import (
	"sync"
	"time"
)

// tanEntry is one cached (TAN -> response) record for a client.
type tanEntry struct {
	response []byte
	age      time.Duration
}

// tanCache replays the cached response for a repeated TAN instead of
// re-executing the operation.
// Keyed per client since TANs are only unique within one client's
// request stream.
type tanCache struct {
	mu      sync.Mutex
	timeout time.Duration
	byClient map[uint8]map[uint8]*tanEntry
}

func newTANCache(timeout time.Duration) *tanCache {
	return &tanCache{timeout: timeout, byClient: make(map[uint8]map[uint8]*tanEntry)}
}

// Lookup returns a cached response for (client, tan) if present and
// not yet expired.
func (c *tanCache) Lookup(client, tan uint8) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.byClient[client]
	if !ok {
		return nil, false
	}
	e, ok := entries[tan]
	if !ok {
		return nil, false
	}
	return e.response, true
}

// Store records a response for (client, tan), replacing any existing
// entry for that TAN value (TANs wrap and get reused as time passes).
func (c *tanCache) Store(client, tan uint8, response []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.byClient[client]
	if !ok {
		entries = make(map[uint8]*tanEntry)
		c.byClient[client] = entries
	}
	entries[tan] = &tanEntry{response: append([]byte{}, response...)}
}

// Update advances every entry's age, evicting ones older than timeout.
func (c *tanCache) Update(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for client, entries := range c.byClient {
		for tan, e := range entries {
			e.age += elapsed
			if e.age >= c.timeout {
				delete(entries, tan)
			}
		}
		if len(entries) == 0 {
			delete(c.byClient, client)
		}
	}
}

// ForgetClient drops every cached entry for a disconnected client.
func (c *tanCache) ForgetClient(client uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byClient, client)
}
