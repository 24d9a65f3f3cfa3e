//go:build !unix && !windows

package discovery

import "syscall"

func setReuseAddr(syscall.RawConn) error { return nil }

func setBroadcast(syscall.RawConn) error { return nil }
