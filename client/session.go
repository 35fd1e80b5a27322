package main

import (
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"github.com/udpapp/uap"
)

// Writer abstracts the connected UDP socket a Session writes to, so the
// FSA logic in this file can be exercised by tests without a real socket.
type Writer interface {
	Write(b []byte) (int, error)
}

// State is one of the Session FSA's five states.
type State int

const (
	StateStart State = iota
	StateHelloWait
	StateReady
	StateReadyTimer
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateHelloWait:
		return "HELLO_WAIT"
	case StateReady:
		return "READY"
	case StateReadyTimer:
		return "READY_TIMER"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DefaultTimeout bounds HELLO_WAIT, READY_TIMER, and CLOSING. READY itself
// has no timer.
const DefaultTimeout = 10 * time.Second

// Session drives a single UAP session end to end: it owns the sequence
// counter, the logical clock, and the current FSA state. Nothing touches
// any of these fields from outside the Run loop.
type Session struct {
	id      uint32
	conn    Writer
	seq     uint32
	clock   uap.Clock
	state   State
	timeout time.Duration
	log     *log.Logger
	stats   *Stats

	// observedState mirrors state for the SIGUSR1 dump handler, which runs
	// on its own goroutine and must not read state directly.
	observedState atomic.Int32
}

// setState transitions the FSA and publishes the new state for any
// goroutine observing it (see observedState).
func (s *Session) setState(next State) {
	s.state = next
	s.observedState.Store(int32(next))
}

// State returns the Session's current FSA state. Safe to call from any
// goroutine.
func (s *Session) State() State {
	return State(s.observedState.Load())
}

// NewSession builds a Session with a freshly chosen random session id.
func NewSession(conn Writer, logger *log.Logger, stats *Stats, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		id:      rand.Uint32(),
		conn:    conn,
		timeout: timeout,
		log:     logger,
		stats:   stats,
	}
}

// Run drives the FSA to completion, returning once the session reaches
// CLOSED.
func (s *Session) Run(lines <-chan inputEvent, incoming <-chan uap.Packet) {
	s.send(uap.CmdHello, nil)
	s.setState(StateHelloWait)
	s.log.Printf("0x%08x HELLO sent, awaiting reply", s.id)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for s.state != StateClosed {
		switch s.state {
		case StateReady:
			select {
			case pkt, ok := <-incoming:
				if !ok {
					s.setState(StateClosed)
					continue
				}
				s.onPacket(pkt, timer)
			case ev, ok := <-lines:
				if !ok {
					continue
				}
				s.onInput(ev, timer)
			}
		default: // HELLO_WAIT, READY_TIMER, CLOSING: bounded by timer
			select {
			case pkt, ok := <-incoming:
				if !ok {
					s.setState(StateClosed)
					continue
				}
				s.onPacket(pkt, timer)
			case <-timer.C:
				s.onTimeout(timer)
			}
		}
	}

	s.log.Printf("0x%08x mean one-way latency: %s", s.id, s.stats.MeanLatency())
}

func (s *Session) onPacket(p uap.Packet, timer *time.Timer) {
	s.clock.TickOnReceive(p.LogicalClock)
	latency := time.Duration(nowMicros()-p.Timestamp) * time.Microsecond
	s.stats.Received(p.Command, latency)
	s.log.Printf("0x%08x [%d] %s latency=%s", s.id, p.Sequence, p.Command, latency)

	switch s.state {
	case StateHelloWait:
		if p.Command == uap.CmdHello {
			s.log.Printf("0x%08x session established", s.id)
			disarmTimer(timer)
			s.setState(StateReady)
			return
		}
		s.setState(StateClosed)

	case StateReady:
		if p.Command != uap.CmdAlive {
			s.setState(StateClosed)
		}

	case StateReadyTimer:
		if p.Command == uap.CmdAlive {
			disarmTimer(timer)
			s.setState(StateReady)
			return
		}
		s.setState(StateClosed)

	case StateClosing:
		switch p.Command {
		case uap.CmdGoodbye:
			s.setState(StateClosed)
		case uap.CmdAlive:
			// stay in CLOSING
		default:
			s.setState(StateClosed)
		}
	}
}

func (s *Session) onInput(ev inputEvent, timer *time.Timer) {
	if ev.eof {
		s.log.Printf("0x%08x end of input, closing", s.id)
		s.send(uap.CmdGoodbye, nil)
		armTimer(timer, s.timeout)
		s.setState(StateClosing)
		return
	}
	s.send(uap.CmdData, []byte(ev.line))
	armTimer(timer, s.timeout)
	s.setState(StateReadyTimer)
}

func (s *Session) onTimeout(timer *time.Timer) {
	switch s.state {
	case StateHelloWait, StateReadyTimer:
		color.Red("0x%08x timeout in %s, closing", s.id, s.state)
		s.send(uap.CmdGoodbye, nil)
		armTimer(timer, s.timeout)
		s.setState(StateClosing)
	case StateClosing:
		s.clock.TickOnEvent()
		s.setState(StateClosed)
	}
}

func (s *Session) send(command uap.Command, payload []byte) {
	clock := s.clock.TickOnEvent()
	raw := uap.Encode(command, s.seq, s.id, clock, nowMicros(), payload)
	s.seq++
	if _, err := s.conn.Write(raw); err != nil {
		s.log.Printf("0x%08x send %s failed: %v", s.id, command, err)
	}
	s.stats.Sent(command)
}

// armTimer resets timer to fire after d, draining any pending fire first.
func armTimer(timer *time.Timer, d time.Duration) {
	disarmTimer(timer)
	timer.Reset(d)
}

// disarmTimer stops timer and drains its channel if it had already fired,
// so a stale fire from a previous state never leaks into the next one.
func disarmTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}
