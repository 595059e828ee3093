package peer

import (
	"net/netip"
	"sync"
	"time"
)

// Outcome reports whether Upsert created a new record or refreshed an
// existing one.
type Outcome int

const (
	Refreshed Outcome = iota
	Created
)

// Table is the dual-indexed peer container: primary index by MAC,
// secondary index by socket for the zero-MAC lookup case.
//
// A community's Table is mutated only by the session engine on the
// single dispatch goroutine, but it is also read concurrently by the
// management API (get_edges, get_communities, get_supernodes), so the
// map structure itself is guarded by a mutex.
type Table struct {
	mu       sync.RWMutex
	byMAC    map[MAC]*Record
	bySocket map[netip.AddrPort]*Record
}

// NewTable builds an empty Table.
func NewTable() *Table {
	return &Table{
		byMAC:    make(map[MAC]*Record),
		bySocket: make(map[netip.AddrPort]*Record),
	}
}

// Upsert finds or inserts a record. If mac is non-zero, lookup is by MAC;
// otherwise lookup is by socket. On a miss, a new Record is inserted with
// Purgeable true by default. The returned pointer is owned by the single
// dispatch goroutine thereafter: only it may mutate the record's fields.
func (t *Table) Upsert(mac MAC, sock netip.AddrPort, now time.Time) (*Record, Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !mac.IsZero() {
		if r, ok := t.byMAC[mac]; ok {
			t.reindexSocket(r, sock)
			r.LastSeen = now
			return r, Refreshed
		}
		r := &Record{MAC: mac, Socket: sock, LastSeen: now, UptimeAtReg: now, Purgeable: true}
		t.byMAC[mac] = r
		t.bySocket[sock] = r
		return r, Created
	}

	if r, ok := t.bySocket[sock]; ok {
		r.LastSeen = now
		return r, Refreshed
	}
	r := &Record{Socket: sock, LastSeen: now, UptimeAtReg: now, Purgeable: true}
	t.bySocket[sock] = r
	return r, Created
}

// reindexSocket must be called with t.mu held.
func (t *Table) reindexSocket(r *Record, newSock netip.AddrPort) {
	if r.Socket == newSock {
		return
	}
	delete(t.bySocket, r.Socket)
	r.Socket = newSock
	t.bySocket[newSock] = r
}

// Reindex updates r's socket and keeps the socket index consistent. Use
// this instead of assigning r.Socket directly for a record not reached
// through Upsert, such as an anchor whose DNS name re-resolves to a new
// address.
func (t *Table) Reindex(r *Record, newSock netip.AddrPort) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reindexSocket(r, newSock)
}

// Anchors returns every non-purgeable record, regardless of whether it
// has acquired a MAC yet. Anchors are installed with a zero MAC and so
// only ever live in the socket index; this is the one lookup path that
// can still reach them.
func (t *Table) Anchors() []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Record
	for _, r := range t.bySocket {
		if !r.Purgeable {
			out = append(out, r)
		}
	}
	return out
}

// Remove deletes the record with the given MAC, if present.
func (t *Table) Remove(mac MAC) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byMAC[mac]
	if !ok {
		return
	}
	delete(t.byMAC, mac)
	delete(t.bySocket, r.Socket)
}

// Get looks up a record by MAC. The returned pointer must only be
// mutated by the single dispatch goroutine.
func (t *Table) Get(mac MAC) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byMAC[mac]
	return r, ok
}

// GetBySocket looks up a record by its last-observed socket.
func (t *Table) GetBySocket(sock netip.AddrPort) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.bySocket[sock]
	return r, ok
}

// Len reports the number of distinct MAC-indexed records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byMAC)
}

// Iter calls fn for every MAC-indexed record (zero-MAC records such as
// anchors live only in the socket index and are not visited; see
// Anchors) while holding the table's write lock, so
// fn may freely read or mutate the record it is given; fn must not call
// back into the same Table (Upsert/Remove/Get/...) or it will deadlock.
// Iteration order is unspecified but stable for the duration of one call.
func (t *Table) Iter(fn func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.byMAC {
		fn(r)
	}
}

// Snapshot returns a copy of every MAC-indexed record (zero-MAC records
// are not included), safe to read without holding
// any lock, for read-only management API methods that outlive the call.
func (t *Table) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.byMAC))
	for _, r := range t.byMAC {
		out = append(out, *r)
	}
	return out
}

// Purge removes every record where Purgeable is true and
// now-LastSeen > ttl, returning the count removed. A non-purgeable peer
// is never removed by the purge sweep.
func (t *Table) Purge(now time.Time, ttl time.Duration) int {
	t.mu.Lock()
	var stale []MAC
	for mac, r := range t.byMAC {
		if r.Purgeable && now.Sub(r.LastSeen) > ttl {
			stale = append(stale, mac)
		}
	}
	for _, mac := range stale {
		if r, ok := t.byMAC[mac]; ok {
			delete(t.byMAC, mac)
			delete(t.bySocket, r.Socket)
		}
	}
	t.mu.Unlock()
	return len(stale)
}
