package uap

// Clock is a Lamport logical clock: a monotonic counter advanced by one on
// every locally observable event, and synchronized forward on receipt of a
// remote value.
//
// Clock is not safe for concurrent use. Both the client and server run as
// single-threaded cooperative loops, so the value stamped into an outgoing
// packet is always the result of the tick that caused the send — no
// additional synchronization is needed here.
type Clock struct {
	value uint64
}

// TickOnEvent advances the clock by one for a local event (send, input read,
// timer fire) and returns the new value.
func (c *Clock) TickOnEvent() uint64 {
	c.value++
	return c.value
}

// TickOnReceive advances the clock past a remote observation: the new value
// is max(local, remote) + 1.
func (c *Clock) TickOnReceive(remote uint64) uint64 {
	if remote > c.value {
		c.value = remote
	}
	c.value++
	return c.value
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() uint64 {
	return c.value
}
