//go:build windows

package main

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// sharedPortControl lets several listeners on one host bind the offer port.
// Windows has no SO_REUSEPORT; SO_REUSEADDR alone allows the shared bind.
func sharedPortControl(network, address string, c syscall.RawConn) error {
	var err error
	cerr := c.Control(func(fd uintptr) {
		err = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if cerr != nil {
		return cerr
	}
	return err
}
