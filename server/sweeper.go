package main

import "time"

// InactivityLimit is the default per-session silence deadline: a session
// that has sent nothing in this long is evicted by the Sweeper.
const InactivityLimit = 10 * time.Second

// sweeperInterval is the fixed tick period for the Sweeper task.
const sweeperInterval = 1 * time.Second

// Sweep evicts every session that has been silent for longer than limit,
// sending a GOODBYE to each and removing it from the table. It runs as a
// task on the same event loop as the Dispatcher, so it may call
// d.closeSession directly without any locking.
func (d *Dispatcher) Sweep(limit time.Duration) {
	for _, sess := range d.table.Expired(d.now(), limit) {
		d.closeSession(sess, "timeout")
		d.stats.SessionEvicted()
	}
}
