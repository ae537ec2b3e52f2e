//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a default net.ListenConfig on platforms
// where SO_REUSEADDR is not explicitly configured.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
