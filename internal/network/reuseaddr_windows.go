//go:build windows

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a ListenConfig whose sockets set
// SO_REUSEADDR before bind, making the API port usable again immediately
// after a restart. Windows accepts the option without the close-wait
// semantics of the unix variant, so the setsockopt result is ignored.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
}
