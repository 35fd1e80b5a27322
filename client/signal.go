//go:build linux || darwin || freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// installStatsDumpHandler dumps the client's Stats to logger whenever the
// process receives SIGUSR1.
func installStatsDumpHandler(stats *Stats, logger *log.Logger, sess *Session) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			stats.Dump(logger, sess.State())
		}
	}()
}
