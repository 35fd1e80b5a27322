package main

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/udpapp/uap"
)

type fakeWriter struct {
	sent [][]byte
}

func (w *fakeWriter) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	w.sent = append(w.sent, cp)
	return len(b), nil
}

func (w *fakeWriter) commands() []uap.Command {
	out := make([]uap.Command, len(w.sent))
	for i, raw := range w.sent {
		p, ok := uap.Decode(raw)
		if !ok {
			continue
		}
		out[i] = p.Command
	}
	return out
}

func newTestSession(timeout time.Duration) (*Session, *fakeWriter, *bytes.Buffer) {
	w := &fakeWriter{}
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	sess := NewSession(w, logger, &Stats{}, timeout)
	return sess, w, &buf
}

func serverPacket(command uap.Command, seq uint32, sessionID uint32, clock uint64) uap.Packet {
	raw := uap.Encode(command, seq, sessionID, clock, 0, nil)
	p, _ := uap.Decode(raw)
	return p
}

// runSessionAsync starts sess.Run on its own goroutine over unbuffered
// channels, so every send from the test blocks until the FSA has consumed
// it — giving the test deterministic event ordering without a barrier.
func runSessionAsync(sess *Session) (incoming chan uap.Packet, lines chan inputEvent, done chan struct{}) {
	incoming = make(chan uap.Packet)
	lines = make(chan inputEvent)
	done = make(chan struct{})
	go func() {
		sess.Run(lines, incoming)
		close(done)
	}()
	return
}

func waitState(t *testing.T, sess *Session, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v (timed out)", sess.State(), want)
}

func TestClientHappyPath(t *testing.T) {
	sess, w, _ := newTestSession(200 * time.Millisecond)
	incoming, lines, done := runSessionAsync(sess)

	waitState(t, sess, StateHelloWait, time.Second)
	incoming <- serverPacket(uap.CmdHello, 0, sess.id, 1)
	waitState(t, sess, StateReady, time.Second)

	lines <- inputEvent{line: "hello"}
	waitState(t, sess, StateReadyTimer, time.Second)
	incoming <- serverPacket(uap.CmdAlive, 1, sess.id, 3)
	waitState(t, sess, StateReady, time.Second)

	lines <- inputEvent{eof: true}
	close(lines)
	waitState(t, sess, StateClosing, time.Second)
	incoming <- serverPacket(uap.CmdGoodbye, 2, sess.id, 5)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after GOODBYE")
	}

	if sess.State() != StateClosed {
		t.Fatalf("final state = %v, want CLOSED", sess.State())
	}
	want := []uap.Command{uap.CmdHello, uap.CmdData, uap.CmdGoodbye}
	got := w.commands()
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sent[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestClientHelloWaitTimeoutClosesWithoutReady(t *testing.T) {
	sess, w, _ := newTestSession(5 * time.Millisecond)
	_, _, done := runSessionAsync(sess)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after HELLO_WAIT timeout elapsed")
	}

	if sess.State() != StateClosed {
		t.Fatalf("final state = %v, want CLOSED", sess.State())
	}
	got := w.commands()
	if len(got) != 2 || got[0] != uap.CmdHello || got[1] != uap.CmdGoodbye {
		t.Fatalf("sent %v, want [HELLO GOODBYE]", got)
	}
}

func TestClientReadyTimerTimeoutClosesOrderly(t *testing.T) {
	sess, w, _ := newTestSession(20 * time.Millisecond)
	incoming, lines, done := runSessionAsync(sess)

	waitState(t, sess, StateHelloWait, time.Second)
	incoming <- serverPacket(uap.CmdHello, 0, sess.id, 1)
	waitState(t, sess, StateReady, time.Second)

	lines <- inputEvent{line: "no reply coming"}
	waitState(t, sess, StateReadyTimer, time.Second)
	waitState(t, sess, StateClosing, time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after READY_TIMER and CLOSING timeouts elapsed")
	}
	if sess.State() != StateClosed {
		t.Fatalf("final state = %v, want CLOSED", sess.State())
	}

	got := w.commands()
	if len(got) != 3 || got[0] != uap.CmdHello || got[1] != uap.CmdData || got[2] != uap.CmdGoodbye {
		t.Fatalf("sent %v, want [HELLO DATA GOODBYE]", got)
	}
}

func TestClientUnexpectedCommandInReadyCloses(t *testing.T) {
	sess, _, _ := newTestSession(200 * time.Millisecond)
	incoming, _, done := runSessionAsync(sess)

	waitState(t, sess, StateHelloWait, time.Second)
	incoming <- serverPacket(uap.CmdHello, 0, sess.id, 1)
	waitState(t, sess, StateReady, time.Second)

	incoming <- serverPacket(uap.CmdData, 1, sess.id, 2) // a server never sends DATA to a client

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after unexpected command in READY")
	}
	if sess.State() != StateClosed {
		t.Fatalf("final state = %v, want CLOSED", sess.State())
	}
}

func TestClientLatencyMeanAccumulates(t *testing.T) {
	sess, _, _ := newTestSession(200 * time.Millisecond)
	incoming, _, done := runSessionAsync(sess)

	waitState(t, sess, StateHelloWait, time.Second)
	now := uint64(time.Now().UnixMicro())
	raw := uap.Encode(uap.CmdHello, 0, sess.id, 1, now, nil)
	p, _ := uap.Decode(raw)
	incoming <- p
	waitState(t, sess, StateReady, time.Second)

	incoming <- serverPacket(uap.CmdGoodbye, 1, sess.id, 2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	if sess.stats.latencyN == 0 {
		t.Errorf("expected at least one latency sample to be recorded")
	}
}
