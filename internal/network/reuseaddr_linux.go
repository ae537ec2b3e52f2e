//go:build linux

// Package network provides listener construction for the REST API. The
// manager is often restarted moments after a previous instance was killed,
// so its listeners opt into SO_REUSEADDR to rebind through TIME_WAIT.
package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a ListenConfig whose sockets set
// SO_REUSEADDR before bind, making the API port usable again immediately
// after a restart.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
