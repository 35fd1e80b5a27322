package main

import (
	"net"
	"time"
)

// Session is the server's per-client state: a session_id, the peer's
// address, the next sequence number expected from that peer, and a
// liveness timestamp used by the Sweeper.
//
// Session is plain data. It is never accessed from more than one
// goroutine: only the Dispatcher's event loop ever reads or writes it.
type Session struct {
	ID        uint32
	Addr      *net.UDPAddr
	Expected  uint32
	LastSeen  time.Time
	CreatedAt time.Time

	PacketsIn  uint64
	Duplicates uint64
	Lost       uint64
	AlivesSent uint64
}

// Table is the server's session store, keyed by session_id. It is a plain
// map rather than a sync.Map: the Dispatcher and Sweeper are both tasks on
// the same single-threaded event loop, so no session ever needs to be
// visible to two goroutines at once.
type Table struct {
	sessions map[uint32]*Session
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[uint32]*Session)}
}

// Get looks up a session by id. ok is false if no such session exists.
func (t *Table) Get(id uint32) (*Session, bool) {
	s, ok := t.sessions[id]
	return s, ok
}

// Create inserts a freshly-created session, keyed by its ID. Callers must
// not call Create for an ID already present in the table.
func (t *Table) Create(s *Session) {
	t.sessions[s.ID] = s
}

// Delete removes a session, if present. Deleting an absent ID is a no-op.
func (t *Table) Delete(id uint32) {
	delete(t.sessions, id)
}

// Len reports the number of live sessions.
func (t *Table) Len() int {
	return len(t.sessions)
}

// Expired returns every session whose last-seen timestamp is older than
// limit, as of now. Used by the Sweeper; does not mutate the table.
func (t *Table) Expired(now time.Time, limit time.Duration) []*Session {
	var out []*Session
	for _, s := range t.sessions {
		if now.Sub(s.LastSeen) > limit {
			out = append(out, s)
		}
	}
	return out
}
