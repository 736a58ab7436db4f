package main

import (
	"context"
	"fmt"
	"net"
)

var sharedListenConfig = net.ListenConfig{Control: sharedPortControl}

// listenShared binds a UDP socket with SO_REUSEADDR and SO_REUSEPORT set.
func listenShared(address string) (*net.UDPConn, error) {
	pc, err := sharedListenConfig.ListenPacket(context.Background(), "udp4", address)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// listenBroadcast opens an ephemeral UDP socket for sending offers. The net
// package enables SO_BROADCAST on every datagram socket it creates.
func listenBroadcast(bindIP string) (*net.UDPConn, error) {
	return net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(bindIP)})
}

func tuneSock(conn *net.TCPConn, bufSize int) {
	conn.SetNoDelay(true)
	if bufSize > 0 {
		conn.SetReadBuffer(bufSize)
		conn.SetWriteBuffer(bufSize)
	}
}

func tuneUDP(conn *net.UDPConn, bufSize int) {
	if bufSize > 0 {
		conn.SetReadBuffer(bufSize)
		conn.SetWriteBuffer(bufSize)
	}
}

func udpPort(c net.PacketConn) int {
	if a, ok := c.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

func tcpPort(l net.Listener) int {
	if a, ok := l.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

func mustPort(p int) (uint16, error) {
	if p <= 0 || p > 65535 {
		return 0, fmt.Errorf("port %d cannot be advertised", p)
	}
	return uint16(p), nil
}
