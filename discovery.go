package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/ipv4"
)

// ─────────────────────────────────────────────────────────────────────────────
// OFFER BROADCASTER (server)
// ─────────────────────────────────────────────────────────────────────────────

// Broadcaster announces the server's ports on the offer port once per interval.
type Broadcaster struct {
	msg      []byte
	dst      *net.UDPAddr
	interval time.Duration
	conn     *net.UDPConn
	log      *Logger
}

func newBroadcaster(cfg Config, offer Offer, log *Logger) (*Broadcaster, error) {
	conn, err := listenBroadcast(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("offer socket: %w", err)
	}
	dst := cfg.offerDest()
	pc := ipv4.NewPacketConn(conn)
	if dst.IP.IsMulticast() {
		pc.SetMulticastTTL(cfg.OfferTTL)
		pc.SetMulticastLoopback(true)
	} else if cfg.OfferTTL > 0 {
		pc.SetTTL(cfg.OfferTTL)
	}
	return &Broadcaster{
		msg:      Encode(offer),
		dst:      dst,
		interval: cfg.OfferInterval.Duration,
		conn:     conn,
		log:      log,
	}, nil
}

// Run sends an offer immediately and then on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	defer b.conn.Close()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	b.announce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.announce()
		}
	}
}

func (b *Broadcaster) announce() {
	if _, err := b.conn.WriteToUDP(b.msg, b.dst); err != nil {
		b.log.Warnf("[Offer] broadcast to %s failed: %v", b.dst, err)
		return
	}
	b.log.Debugf("[Offer] sent to %s", b.dst)
}

// ─────────────────────────────────────────────────────────────────────────────
// OFFER LISTENER (client)
// ─────────────────────────────────────────────────────────────────────────────

// Discovered is an offer together with the address it came from.
type Discovered struct {
	Offer
	From *net.UDPAddr
}

func (d Discovered) StreamAddr() string {
	return hostPort(d.From.IP.String(), int(d.StreamPort))
}

func (d Discovered) DatagramAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: d.From.IP, Port: int(d.DatagramPort)}
}

type OfferListener struct {
	conn *net.UDPConn
	buf  []byte
	log  *Logger
}

// ListenOffers binds the offer port, sharing it with other listeners on this host.
func ListenOffers(cfg Config, log *Logger) (*OfferListener, error) {
	conn, err := listenShared(hostPort(cfg.BindAddr, cfg.OfferPort))
	if err != nil {
		return nil, fmt.Errorf("listen for offers on port %d: %w", cfg.OfferPort, err)
	}
	if group := net.ParseIP(cfg.OfferAddr); group != nil && group.IsMulticast() {
		joinGroup(conn, group, log)
	}
	return &OfferListener{conn: conn, buf: make([]byte, 2048), log: log}, nil
}

func joinGroup(conn *net.UDPConn, group net.IP, log *Logger) {
	pc := ipv4.NewPacketConn(conn)
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Warnf("list interfaces: %v", err)
		return
	}
	joined := 0
	for i := range ifaces {
		if ifaces[i].Flags&net.FlagUp == 0 || ifaces[i].Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&ifaces[i], &net.UDPAddr{IP: group}); err == nil {
			joined++
		}
	}
	if joined == 0 {
		log.Warnf("could not join %s on any interface", group)
	}
}

func (l *OfferListener) Port() int { return udpPort(l.conn) }

func (l *OfferListener) Close() error { return l.conn.Close() }

// WaitOffer blocks until a well-formed offer arrives or ctx is done.
// Anything that is not a valid offer is dropped.
func (l *OfferListener) WaitOffer(ctx context.Context) (Discovered, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Discovered{}, err
		}
		l.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, src, err := l.conn.ReadFromUDP(l.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return Discovered{}, err
		}
		offer, err := DecodeOffer(l.buf[:n])
		if err != nil {
			l.log.Debugf("discarded %d bytes from %s: %v", n, src, err)
			continue
		}
		if offer.StreamPort == 0 || offer.DatagramPort == 0 {
			l.log.Debugf("discarded offer from %s with zero port", src)
			continue
		}
		return Discovered{Offer: offer, From: src}, nil
	}
}
