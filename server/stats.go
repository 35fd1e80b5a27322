package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/udpapp/uap"
)

// Stats holds process-lifetime counters for the server. It is purely
// observational: nothing here feeds back into the Dispatcher or Sweeper.
//
// Counters use atomics so the SIGUSR1 dump handler (a separate goroutine,
// see signal.go) can read them without synchronizing with the event loop.
type Stats struct {
	sessionsCreated  uint64
	sessionsClosed   uint64
	evictedBySweeper uint64
	inOrder          uint64
	duplicates       uint64
	gaps             uint64
	stale            uint64
	alivesSent       uint64

	// activeSessions reports the live session count at snapshot time.
	// Stats holds no Table reference of its own; main.go wires this to
	// the Dispatcher's table after both are constructed.
	activeSessions func() int
}

func (s *Stats) SessionCreated() { atomic.AddUint64(&s.sessionsCreated, 1) }
func (s *Stats) SessionClosed()  { atomic.AddUint64(&s.sessionsClosed, 1) }
func (s *Stats) AliveSent()      { atomic.AddUint64(&s.alivesSent, 1) }

// SessionEvicted records a session closed by the Sweeper for inactivity,
// on top of (not instead of) the general SessionClosed count, so eviction
// can be distinguished from GOODBYE/protocol-error/stale closes.
func (s *Stats) SessionEvicted() { atomic.AddUint64(&s.evictedBySweeper, 1) }

// Classified records one DATA packet's classification outcome.
func (s *Stats) Classified(c uap.Classification) {
	switch c {
	case uap.InOrder:
		atomic.AddUint64(&s.inOrder, 1)
	case uap.Duplicate:
		atomic.AddUint64(&s.duplicates, 1)
	case uap.Gap:
		atomic.AddUint64(&s.gaps, 1)
	case uap.Stale:
		atomic.AddUint64(&s.stale, 1)
	}
}

type statsSnapshot struct {
	sessionsCreated  uint64
	sessionsClosed   uint64
	evictedBySweeper uint64
	inOrder          uint64
	duplicates       uint64
	gaps             uint64
	stale            uint64
	alivesSent       uint64
	activeSessions   int
}

func (s *Stats) snapshot() statsSnapshot {
	active := 0
	if s.activeSessions != nil {
		active = s.activeSessions()
	}
	return statsSnapshot{
		sessionsCreated:  atomic.LoadUint64(&s.sessionsCreated),
		sessionsClosed:   atomic.LoadUint64(&s.sessionsClosed),
		evictedBySweeper: atomic.LoadUint64(&s.evictedBySweeper),
		inOrder:          atomic.LoadUint64(&s.inOrder),
		duplicates:       atomic.LoadUint64(&s.duplicates),
		gaps:             atomic.LoadUint64(&s.gaps),
		stale:            atomic.LoadUint64(&s.stale),
		alivesSent:       atomic.LoadUint64(&s.alivesSent),
		activeSessions:   active,
	}
}

var statsHeader = []string{
	"unix", "sessions_created", "sessions_closed", "evicted_by_sweeper",
	"in_order", "duplicates", "gaps", "stale", "alives_sent", "active_sessions",
}

// Dump writes a one-line human-readable snapshot to logger.
func (s *Stats) Dump(logger *log.Logger) {
	snap := s.snapshot()
	logger.Printf("stats: sessions_created=%d sessions_closed=%d evicted_by_sweeper=%d "+
		"in_order=%d duplicates=%d gaps=%d stale=%d alives_sent=%d active_sessions=%d",
		snap.sessionsCreated, snap.sessionsClosed, snap.evictedBySweeper,
		snap.inOrder, snap.duplicates, snap.gaps, snap.stale, snap.alivesSent, snap.activeSessions)
}

// csvLogger periodically appends a stats snapshot to path.
func csvLogger(stats *Stats, path string, period time.Duration, logger *log.Logger) {
	if path == "" || period == 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for range ticker.C {
		if err := appendStatsRow(stats, path); err != nil {
			logger.Printf("stats log: %+v", err)
		}
	}
}

func appendStatsRow(stats *Stats, path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return errors.Wrap(err, "open stats log")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(statsHeader); err != nil {
			return errors.Wrap(err, "write stats header")
		}
	}
	snap := stats.snapshot()
	row := []string{
		fmt.Sprint(time.Now().Unix()),
		fmt.Sprint(snap.sessionsCreated),
		fmt.Sprint(snap.sessionsClosed),
		fmt.Sprint(snap.evictedBySweeper),
		fmt.Sprint(snap.inOrder),
		fmt.Sprint(snap.duplicates),
		fmt.Sprint(snap.gaps),
		fmt.Sprint(snap.stale),
		fmt.Sprint(snap.alivesSent),
		fmt.Sprint(snap.activeSessions),
	}
	if err := w.Write(row); err != nil {
		return errors.Wrap(err, "write stats row")
	}
	w.Flush()
	return w.Error()
}
