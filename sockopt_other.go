//go:build !unix && !windows

package main

import "syscall"

// sharedPortControl is a no-op where no port sharing option is available;
// a second listener on the same host fails to bind.
func sharedPortControl(network, address string, c syscall.RawConn) error { return nil }
