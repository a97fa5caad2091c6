// Package clients is the server-side client table (spec.md §3, §4.6):
// the admission-bounded map from an accepted TCP connection to its
// record, guarded by a single mutex, grounded on the cppla-moto
// listener's accept-then-dispatch shape.
package clients

import (
	"net"
	"sync"
)

// Status is a client record's transfer state.
type Status int

const (
	StatusIdle Status = iota
	StatusReceiving
)

// CurrentFile tracks an in-progress receive for observability.
type CurrentFile struct {
	Name     string
	Total    uint64
	Received uint64
}

// Record is one admitted client's server-side bookkeeping.
type Record struct {
	Conn        net.Conn
	PeerIP      string
	Status      Status
	CurrentFile *CurrentFile
	// Rate is the configured default transfer rate, surfaced read-only
	// for display (spec.md §4.8 supplement); it does not affect the
	// transfer itself.
	Rate float64
}

// Table is the mutex-guarded map from connection to client record, and
// the single admission gate (spec.md §4.6, §5: "guarded by a mutex...
// held only during insertion, removal, and size inspection").
type Table struct {
	mu      sync.Mutex
	maxSize int
	records map[net.Conn]*Record
}

// New builds a Table admitting at most maxSize concurrent clients.
func New(maxSize int) *Table {
	return &Table{
		maxSize: maxSize,
		records: make(map[net.Conn]*Record),
	}
}

// TryAdmit registers conn under the table if below the admission cap,
// returning the new record and true. If the table is already at
// capacity it returns (nil, false) and the caller must close conn.
func (t *Table) TryAdmit(conn net.Conn) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.records) >= t.maxSize {
		return nil, false
	}
	peerIP := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(peerIP); err == nil {
		peerIP = host
	}
	rec := &Record{Conn: conn, PeerIP: peerIP, Status: StatusIdle}
	t.records[conn] = rec
	return rec, true
}

// Remove drops conn's record, releasing its admission slot.
func (t *Table) Remove(conn net.Conn) {
	t.mu.Lock()
	delete(t.records, conn)
	t.mu.Unlock()
}

// Len returns the current number of admitted clients.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// SetReceiving marks rec as actively receiving cur, for progress
// observability; callers hold no lock on rec itself since a handler
// thread is its sole owner for the lifetime of the connection
// (spec.md §5).
func (t *Table) SetReceiving(rec *Record, cur *CurrentFile) {
	t.mu.Lock()
	rec.Status = StatusReceiving
	rec.CurrentFile = cur
	t.mu.Unlock()
}

// SetIdle clears rec's in-progress file, called after a receive ends.
func (t *Table) SetIdle(rec *Record) {
	t.mu.Lock()
	rec.Status = StatusIdle
	rec.CurrentFile = nil
	t.mu.Unlock()
}
