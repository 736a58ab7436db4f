package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// TRANSFER SERVER
// ─────────────────────────────────────────────────────────────────────────────

var errRequestSize = errors.New("requested size out of bounds")

type Server struct {
	cfg Config
	log *Logger

	ln  *net.TCPListener
	udp *net.UDPConn

	// Separate limits: a full stream pool never holds up a datagram burst.
	streams chan struct{}
	bursts  chan struct{}
	wg      sync.WaitGroup
	fill    []byte
}

func NewServer(cfg Config, log *Logger) *Server {
	fill := make([]byte, max(cfg.StreamChunk, cfg.SegmentSize))
	for i := range fill {
		fill[i] = 'a'
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		streams: make(chan struct{}, cfg.MaxWorkers),
		bursts:  make(chan struct{}, cfg.MaxBursts),
		fill:    fill,
	}
}

// Listen binds the stream and datagram service ports.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp4", hostPort(s.cfg.BindAddr, s.cfg.StreamPort))
	if err != nil {
		return fmt.Errorf("bind stream port %d: %w", s.cfg.StreamPort, err)
	}
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(s.cfg.BindAddr), Port: s.cfg.DatagramPort})
	if err != nil {
		ln.Close()
		return fmt.Errorf("bind datagram port %d: %w", s.cfg.DatagramPort, err)
	}
	tuneUDP(udp, s.cfg.SocketBuffer)
	s.ln = ln.(*net.TCPListener)
	s.udp = udp
	return nil
}

// Offer is what the broadcaster announces: the ports actually bound.
func (s *Server) Offer() (Offer, error) {
	sp, err := mustPort(tcpPort(s.ln))
	if err != nil {
		return Offer{}, err
	}
	dp, err := mustPort(udpPort(s.udp))
	if err != nil {
		return Offer{}, err
	}
	return Offer{StreamPort: sp, DatagramPort: dp}, nil
}

// Serve runs the broadcaster and both transfer paths until ctx is cancelled,
// then waits for in-flight transfers to finish.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	offer, err := s.Offer()
	if err != nil {
		return err
	}
	b, err := newBroadcaster(s.cfg, offer, s.log)
	if err != nil {
		s.ln.Close()
		s.udp.Close()
		return err
	}

	var loops sync.WaitGroup
	loops.Add(3)
	go func() { defer loops.Done(); b.Run(ctx) }()
	go func() { defer loops.Done(); s.acceptLoop(ctx) }()
	go func() { defer loops.Done(); s.datagramLoop(ctx) }()

	<-ctx.Done()
	s.ln.Close()
	s.udp.Close()
	loops.Wait()
	s.wg.Wait()
	return nil
}

func acquire(ctx context.Context, sem chan struct{}) bool {
	select {
	case sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) checkSize(size uint64) error {
	if size == 0 || size > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: %d (max %d)", errRequestSize, size, s.cfg.MaxFileSize)
	}
	return nil
}

// ── stream path ──────────────────────────────────────────────────────────────

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnf("[TCP] accept: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !acquire(ctx, s.streams) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.streams }()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn *net.TCPConn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	tuneSock(conn, s.cfg.SocketBuffer)
	peer := conn.RemoteAddr()

	if d := s.cfg.RequestTimeout.Duration; d > 0 {
		conn.SetReadDeadline(time.Now().Add(d))
	}
	req, err := ReadRequest(conn)
	if err != nil {
		s.log.Infof("[TCP] bad request from %s: %v", peer, err)
		return
	}
	if err := s.checkSize(req.FileSize); err != nil {
		s.log.Infof("[TCP] rejected %s: %v", peer, err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	s.log.Infof("[TCP] sending %d bytes to %s", req.FileSize, peer)
	t0 := time.Now()
	sent, err := s.streamFiller(conn, req.FileSize)
	dt := time.Since(t0)
	if err != nil {
		s.log.Warnf("[TCP] %s: %v after %d bytes", peer, err, sent)
		return
	}
	bps, _ := speedBps(sent, dt)
	s.log.Infof("[TCP] sent %d bytes to %s in %s (%s)", sent, peer, fmtTime(dt.Seconds()), fmtRate(bps))
}

func (s *Server) streamFiller(conn net.Conn, size uint64) (uint64, error) {
	chunk := uint64(s.cfg.StreamChunk)
	var sent uint64
	for sent < size {
		n := min(chunk, size-sent)
		w, err := conn.Write(s.fill[:n])
		sent += uint64(w)
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// ── datagram path ────────────────────────────────────────────────────────────

func (s *Server) datagramLoop(ctx context.Context) {
	buf := make([]byte, 2048)
	for {
		n, peer, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnf("[UDP] read: %v", err)
			continue
		}
		req, err := DecodeRequest(buf[:n])
		if err != nil {
			s.log.Debugf("[UDP] discarded %d bytes from %s: %v", n, peer, err)
			continue
		}
		if err := s.checkSize(req.FileSize); err != nil {
			s.log.Infof("[UDP] rejected %s: %v", peer, err)
			continue
		}
		// The read loop never waits for a slot; the burst does.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if !acquire(ctx, s.bursts) {
				return
			}
			defer func() { <-s.bursts }()
			s.sendSegments(ctx, peer, req.FileSize)
		}()
	}
}

// sendSegments writes ceil(size/SegmentSize) payloads back to back.
// The last one carries the remainder so the filler adds up to size.
func (s *Server) sendSegments(ctx context.Context, peer *net.UDPAddr, size uint64) {
	seg := uint64(s.cfg.SegmentSize)
	total := segmentCount(size, s.cfg.SegmentSize)
	pkt := make([]byte, 0, payloadHdrLen+s.cfg.SegmentSize)
	delay := s.cfg.SegmentDelay.Duration

	s.log.Infof("[UDP] sending %d segments (%d bytes) to %s", total, size, peer)
	t0 := time.Now()
	var failed uint64
	for i := uint64(0); i < total; i++ {
		if ctx.Err() != nil {
			return
		}
		n := min(seg, size-i*seg)
		pkt = AppendPayloadHeader(pkt[:0], total, i)
		pkt = append(pkt, s.fill[:n]...)
		if _, err := s.udp.WriteToUDP(pkt, peer); err != nil {
			failed++
			s.log.Debugf("[UDP] segment %d/%d to %s: %v", i, total, peer, err)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	s.log.Infof("[UDP] sent %d segments to %s in %s (%d send errors)",
		total, peer, fmtTime(time.Since(t0).Seconds()), failed)
}
