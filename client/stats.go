package main

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/udpapp/uap"
)

// Stats holds the client's process-lifetime counters. It is purely
// observational: nothing here feeds back into the Session FSA.
//
// Counters use atomics so the SIGUSR1 dump handler (a separate goroutine,
// see signal.go) can read them without synchronizing with the Session's
// event loop.
type Stats struct {
	sent       [4]uint64
	received   [4]uint64
	latencySum int64 // nanoseconds
	latencyN   uint64
}

// Sent records one outgoing packet of the given command.
func (s *Stats) Sent(c uap.Command) { atomic.AddUint64(&s.sent[c], 1) }

// Received records one incoming packet of the given command and folds its
// one-way latency into the running mean.
func (s *Stats) Received(c uap.Command, latency time.Duration) {
	atomic.AddUint64(&s.received[c], 1)
	atomic.AddInt64(&s.latencySum, int64(latency))
	atomic.AddUint64(&s.latencyN, 1)
}

// MeanLatency returns the arithmetic mean of every recorded one-way
// latency, or zero if none were recorded.
func (s *Stats) MeanLatency() time.Duration {
	n := atomic.LoadUint64(&s.latencyN)
	if n == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&s.latencySum) / int64(n))
}

// Dump writes a one-line human-readable snapshot to logger, including the
// Session's current FSA state.
func (s *Stats) Dump(logger *log.Logger, state State) {
	logger.Printf("stats: state=%s sent={hello:%d data:%d alive:%d goodbye:%d} received={hello:%d data:%d alive:%d goodbye:%d} mean_latency=%s",
		state,
		atomic.LoadUint64(&s.sent[uap.CmdHello]), atomic.LoadUint64(&s.sent[uap.CmdData]),
		atomic.LoadUint64(&s.sent[uap.CmdAlive]), atomic.LoadUint64(&s.sent[uap.CmdGoodbye]),
		atomic.LoadUint64(&s.received[uap.CmdHello]), atomic.LoadUint64(&s.received[uap.CmdData]),
		atomic.LoadUint64(&s.received[uap.CmdAlive]), atomic.LoadUint64(&s.received[uap.CmdGoodbye]),
		s.MeanLatency())
}
