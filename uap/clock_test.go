package uap

import "testing"

func TestClockTickOnEventIsMonotonic(t *testing.T) {
	var c Clock
	var prev uint64
	for i := 0; i < 5; i++ {
		v := c.TickOnEvent()
		if v <= prev {
			t.Fatalf("TickOnEvent returned non-increasing value %d after %d", v, prev)
		}
		prev = v
	}
}

func TestClockTickOnReceiveTakesMax(t *testing.T) {
	var c Clock
	c.TickOnEvent() // local = 1

	if got := c.TickOnReceive(5); got != 6 {
		t.Errorf("TickOnReceive(5) with local=1 = %d, want 6", got)
	}

	// A remote value behind the local clock should not move it backwards.
	if got := c.TickOnReceive(2); got != 7 {
		t.Errorf("TickOnReceive(2) with local=6 = %d, want 7", got)
	}
}

func TestClockValueDoesNotAdvance(t *testing.T) {
	var c Clock
	c.TickOnEvent()
	c.TickOnEvent()
	before := c.Value()
	if after := c.Value(); after != before {
		t.Errorf("Value() advanced the clock: %d != %d", after, before)
	}
}
