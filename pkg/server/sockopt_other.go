//go:build !linux

package server

import (
	"syscall"
)

// listenControl leaves socket options to the platform defaults.
func listenControl(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
