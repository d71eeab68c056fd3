package server

import (
	"sort"
	"sync"
)

// connTable is the live-connection set. It is written by the accept path
// and by every disconnect path; all critical sections are short and never
// span socket I/O.
type connTable struct {
	mu    sync.RWMutex
	conns map[ConnectionID]*Connection
	limit int

	peak        int
	totalOpened uint64
	totalClosed uint64
	denied      uint64
}

// Stats contains live-connection statistics.
type Stats struct {
	Active      int    `json:"active"`
	Peak        int    `json:"peak"`
	TotalOpened uint64 `json:"total_opened"`
	TotalClosed uint64 `json:"total_closed"`
	Denied      uint64 `json:"denied"`
}

func newConnTable(limit int) *connTable {
	return &connTable{
		conns: make(map[ConnectionID]*Connection),
		limit: limit,
	}
}

// add inserts c unless the table is at its limit.
func (t *connTable) add(c *Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limit > 0 && len(t.conns) >= t.limit {
		t.denied++
		return ErrMaxConnectionsReached
	}

	t.conns[c.id] = c
	t.totalOpened++
	if len(t.conns) > t.peak {
		t.peak = len(t.conns)
	}
	return nil
}

// remove deletes id and returns the connection, or nil if it was not live.
func (t *connTable) remove(id ConnectionID) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.conns[id]
	if !ok {
		return nil
	}
	delete(t.conns, id)
	t.totalClosed++
	return c
}

func (t *connTable) get(id ConnectionID) *Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[id]
}

func (t *connTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// snapshot returns the live connections ordered by id. Callers iterate the
// copy without holding the lock.
func (t *connTable) snapshot() []*Connection {
	t.mu.RLock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}

func (t *connTable) stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		Active:      len(t.conns),
		Peak:        t.peak,
		TotalOpened: t.totalOpened,
		TotalClosed: t.totalClosed,
		Denied:      t.denied,
	}
}
