package discovery

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// listenDiscovery binds the receive socket on addr with address reuse enabled
// so a quick restart does not fail with "address already in use".
func listenDiscovery(ctx context.Context, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setReuseAddr(c)
		},
	}
	return listenUDP(ctx, lc, addr)
}

// listenBroadcast opens an ephemeral send socket that may address broadcast
// destinations.
func listenBroadcast(ctx context.Context) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setBroadcast(c)
		},
	}
	return listenUDP(ctx, lc, "0.0.0.0:0")
}

func listenUDP(ctx context.Context, lc net.ListenConfig, addr string) (*net.UDPConn, error) {
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("unexpected packet conn type %T", pc)}
	}
	return conn, nil
}
