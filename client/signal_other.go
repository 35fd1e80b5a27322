//go:build !linux && !darwin && !freebsd

package main

import "log"

// installStatsDumpHandler is a no-op on platforms without SIGUSR1.
func installStatsDumpHandler(stats *Stats, logger *log.Logger, sess *Session) {}
