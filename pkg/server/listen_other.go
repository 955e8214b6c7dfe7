//go:build !linux

package server

import "log"

// logListenBacklog logs the listen address (non-Linux systems)
func logListenBacklog(addr string, backlog int) {
	log.Printf("TCP server listening on %s (backlog %d)", addr, backlog)
}
