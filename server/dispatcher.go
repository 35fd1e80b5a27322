package main

import (
	"log"
	"net"
	"time"

	"github.com/fatih/color"

	"github.com/udpapp/uap"
)

// Sender abstracts the one UDP socket the Dispatcher owns for its lifetime,
// so the classification logic in this file can be exercised by tests
// without opening a real socket.
type Sender interface {
	SendTo(addr *net.UDPAddr, raw []byte) error
}

// udpSender is the production Sender, backed by the server's single
// net.UDPConn.
type udpSender struct {
	conn *net.UDPConn
}

func (s udpSender) SendTo(addr *net.UDPAddr, raw []byte) error {
	_, err := s.conn.WriteToUDP(raw, addr)
	return err
}

// Dispatcher receives every datagram on the server's one socket, classifies
// it, and replies. It owns the Session Table exclusively: nothing else in
// this program reads or writes it.
type Dispatcher struct {
	send  Sender
	log   *log.Logger
	table *Table
	clock uap.Clock
	seq   uint32
	stats *Stats
	nowFn func() time.Time
}

// NewDispatcher builds a Dispatcher around a Sender and a logger. nowFn
// defaults to time.Now; tests may override it for deterministic Sweeper
// behavior.
func NewDispatcher(send Sender, logger *log.Logger, stats *Stats) *Dispatcher {
	return &Dispatcher{
		send:  send,
		log:   logger,
		table: NewTable(),
		stats: stats,
		nowFn: time.Now,
	}
}

// ActiveSessions reports the current number of live sessions. Wired into
// Stats by main.go so Dump/csvLogger can report it without Stats holding
// its own Table reference.
func (d *Dispatcher) ActiveSessions() int {
	return d.table.Len()
}

func (d *Dispatcher) now() time.Time {
	if d.nowFn != nil {
		return d.nowFn()
	}
	return time.Now()
}

// reply encodes and sends a server-originated packet, stamping the shared
// server sequence counter (post-increment) and the current logical clock,
// ticked forward for this send so consecutive replies never repeat a value.
func (d *Dispatcher) reply(addr *net.UDPAddr, command uap.Command, sessionID uint32) {
	clock := d.clock.TickOnEvent()
	raw := uap.Encode(command, d.seq, sessionID, clock, nowMicros(), nil)
	d.seq++
	if err := d.send.SendTo(addr, raw); err != nil {
		d.log.Printf("0x%08x send %s failed: %v", sessionID, command, err)
	}
}

// Handle processes one datagram received from addr. It is the sole entry
// point the event loop calls; everything downstream is synchronous.
func (d *Dispatcher) Handle(addr *net.UDPAddr, raw []byte) {
	p, ok := uap.Decode(raw)
	if !ok {
		return // malformed datagram: discarded, no session state change
	}
	d.clock.TickOnReceive(p.LogicalClock)

	sess, exists := d.table.Get(p.SessionID)
	if !exists {
		d.handleNewSession(addr, p)
		return
	}
	sess.LastSeen = d.now()
	d.handleExisting(sess, p)
}

func (d *Dispatcher) handleNewSession(addr *net.UDPAddr, p uap.Packet) {
	if p.Command != uap.CmdHello {
		d.log.Printf("0x%08x unknown session, dropping %s", p.SessionID, p.Command)
		return
	}
	sess := &Session{
		ID:        p.SessionID,
		Addr:      addr,
		Expected:  p.Sequence + 1,
		LastSeen:  d.now(),
		CreatedAt: d.now(),
	}
	d.table.Create(sess)
	d.stats.SessionCreated()
	d.log.Printf("0x%08x [%d] Session created", sess.ID, p.Sequence)
	d.reply(addr, uap.CmdHello, sess.ID)
}

func (d *Dispatcher) handleExisting(sess *Session, p uap.Packet) {
	switch p.Command {
	case uap.CmdData:
		d.handleData(sess, p)
	case uap.CmdGoodbye:
		d.log.Printf("0x%08x [%d] GOODBYE from client", sess.ID, p.Sequence)
		d.closeSession(sess, "")
	default:
		color.Red("0x%08x protocol error: unexpected %s on existing session", sess.ID, p.Command)
		d.closeSession(sess, "protocol error")
	}
}

func (d *Dispatcher) handleData(sess *Session, p uap.Packet) {
	sess.PacketsIn++
	switch uap.Classify(p.Sequence, sess.Expected) {
	case uap.InOrder:
		d.emitPayload(sess, p)
		sess.Expected = p.Sequence + 1
		d.stats.Classified(uap.InOrder)
		d.reply(sess.Addr, uap.CmdAlive, sess.ID)
		sess.AlivesSent++
		d.stats.AliveSent()

	case uap.Duplicate:
		sess.Duplicates++
		d.log.Printf("0x%08x [%d] Duplicate packet", sess.ID, p.Sequence)
		d.stats.Classified(uap.Duplicate)
		d.reply(sess.Addr, uap.CmdAlive, sess.ID)
		sess.AlivesSent++
		d.stats.AliveSent()

	case uap.Gap:
		for _, missing := range uap.Missing(p.Sequence, sess.Expected) {
			sess.Lost++
			d.log.Printf("0x%08x [%d] Lost packet", sess.ID, missing)
		}
		d.emitPayload(sess, p)
		sess.Expected = p.Sequence + 1
		d.stats.Classified(uap.Gap)
		d.reply(sess.Addr, uap.CmdAlive, sess.ID)
		sess.AlivesSent++
		d.stats.AliveSent()

	case uap.Stale:
		color.Red("0x%08x [%d] protocol error: stale sequence (expected %d)", sess.ID, p.Sequence, sess.Expected)
		d.stats.Classified(uap.Stale)
		d.closeSession(sess, "stale sequence")
	}
}

func (d *Dispatcher) emitPayload(sess *Session, p uap.Packet) {
	d.log.Printf("0x%08x [%d] %s", sess.ID, p.Sequence, trimTrailingNewline(p.Payload))
}

func trimTrailingNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		return b[:n-1]
	}
	return b
}

// closeSession sends a best-effort GOODBYE and removes sess from the table.
// A non-empty reason is logged as "Session closed (<reason>)", as the
// Sweeper does with "timeout"; GOODBYE-from-client passes an empty reason
// and logs its own message before calling this.
func (d *Dispatcher) closeSession(sess *Session, reason string) {
	d.reply(sess.Addr, uap.CmdGoodbye, sess.ID)
	d.table.Delete(sess.ID)
	d.stats.SessionClosed()
	if reason != "" {
		d.log.Printf("0x%08x Session closed (%s)", sess.ID, reason)
	} else {
		d.log.Printf("0x%08x Session closed", sess.ID)
	}
}

// nowMicros stamps outgoing packets with the send time, in microseconds
// since the Unix epoch.
func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}
