//go:build windows

package server

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// listenTCP binds an IPv4 socket on every interface. The listen backlog is
// left to the OS because net.ListenConfig offers no hook between bind and listen.
func listenTCP(port, backlog int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	debugLog.Printf("Listen backlog %d not configurable on this platform", backlog)
	return lc.Listen(context.Background(), "tcp4", fmt.Sprintf(":%d", port))
}
