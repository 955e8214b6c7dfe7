//go:build linux

package server

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// logListenBacklog logs the requested backlog next to the kernel cap (Linux-specific)
func logListenBacklog(addr string, backlog int) {
	var somaxconn int
	if data, err := os.ReadFile("/proc/sys/net/core/somaxconn"); err == nil {
		fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &somaxconn)
	}

	log.Printf("TCP server listening on %s (backlog %d, kernel cap %d)", addr, backlog, somaxconn)
	if somaxconn > 0 && backlog > somaxconn {
		log.Printf("WARNING: backlog %d exceeds net.core.somaxconn=%d and will be truncated", backlog, somaxconn)
	}
}
