//go:build unix

package server

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// listenTCP binds an IPv4 socket on every interface with an explicit listen
// backlog. net.Listen always uses the kernel maximum, so the socket is built
// by hand and then handed to the net package.
func listenTCP(port, backlog int) (net.Listener, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	syscall.CloseOnExec(fd)

	if err := setSocketOptions(uintptr(fd)); err != nil {
		syscall.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}

	if err := syscall.Bind(fd, &syscall.SockaddrInet4{Port: port}); err != nil {
		syscall.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	// FileListener duplicates the descriptor, so the original is closed here
	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp4-listener:%d", port))
	defer f.Close()

	return net.FileListener(f)
}
