package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// TRANSFER CLIENT
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrInvalidParams = errors.New("invalid transfer parameters")
	errShortTransfer = errors.New("connection closed early")
)

// RoundParams is what the user asks for in one round.
type RoundParams struct {
	FileSize      uint64
	StreamConns   int
	DatagramConns int
}

func (p RoundParams) Total() int { return p.StreamConns + p.DatagramConns }

// CheckParams rejects a round before any worker is launched.
func (c *Config) CheckParams(p RoundParams) error {
	switch {
	case p.FileSize == 0:
		return fmt.Errorf("%w: file size must be positive", ErrInvalidParams)
	case p.FileSize > c.MaxFileSize:
		return fmt.Errorf("%w: file size %d exceeds maximum %d", ErrInvalidParams, p.FileSize, c.MaxFileSize)
	case p.StreamConns < 0 || p.DatagramConns < 0:
		return fmt.Errorf("%w: connection counts cannot be negative", ErrInvalidParams)
	case p.Total() == 0:
		return fmt.Errorf("%w: at least one TCP or UDP connection is required", ErrInvalidParams)
	case p.Total() > c.MaxConnections:
		return fmt.Errorf("%w: %d connections exceeds maximum %d", ErrInvalidParams, p.Total(), c.MaxConnections)
	case p.StreamConns > c.MaxWorkers:
		return fmt.Errorf("%w: %d TCP connections exceeds the server's %d concurrent transfers", ErrInvalidParams, p.StreamConns, c.MaxWorkers)
	case p.DatagramConns > c.MaxBursts:
		return fmt.Errorf("%w: %d UDP connections exceeds the server's %d concurrent bursts", ErrInvalidParams, p.DatagramConns, c.MaxBursts)
	}
	return nil
}

type Client struct {
	cfg      Config
	log      *Logger
	progress io.Writer // nil disables the progress meter
}

func NewClient(cfg Config, log *Logger) *Client {
	return &Client{cfg: cfg, log: log}
}

// RunRound launches every stream and datagram worker against the offering
// server, waits for all of them and returns one record per worker.
func (c *Client) RunRound(ctx context.Context, d Discovered, p RoundParams) (*Round, error) {
	if err := c.cfg.CheckParams(p); err != nil {
		return nil, err
	}
	round := newRound(d.From, p)
	results := make(chan TransferResult, p.Total())
	done := make(chan struct{})
	go round.collect(results, done)

	var prog *Progress
	if c.progress != nil {
		prog = newProgress(c.progress, "transfer", int64(p.FileSize)*int64(p.Total()))
	}

	var wg sync.WaitGroup
	id := 1
	for range p.StreamConns {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results <- c.streamTransfer(ctx, d.StreamAddr(), id, p.FileSize, prog)
		}(id)
		id++
	}
	for range p.DatagramConns {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results <- c.datagramTransfer(ctx, d.DatagramAddr(), id, p.FileSize, prog)
		}(id)
		id++
	}
	wg.Wait()
	close(results)
	<-done
	round.Wall = time.Since(round.Started)
	prog.Finish()
	return round, nil
}

func (c *Client) streamTransfer(ctx context.Context, addr string, id int, size uint64, prog *Progress) TransferResult {
	res := TransferResult{ID: id, Kind: Stream, Requested: size}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout.Duration}
	nc, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		res.Err = err
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		}
		return res
	}
	conn := nc.(*net.TCPConn)
	defer conn.Close()
	tuneSock(conn, c.cfg.SocketBuffer)

	if _, err := conn.Write(Encode(Request{FileSize: size})); err != nil {
		res.Err = fmt.Errorf("send request: %w", err)
		return res
	}
	t0 := time.Now()
	if d := c.cfg.StreamTimeout.Duration; d > 0 {
		conn.SetDeadline(t0.Add(d))
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 64*1024)
	for res.BytesReceived < size {
		n, err := conn.Read(buf)
		res.BytesReceived += uint64(n)
		prog.Advance(int64(n))
		if err != nil {
			if !errors.Is(err, io.EOF) {
				res.Err = err
			}
			break
		}
	}
	res.Elapsed = time.Since(t0)
	if res.Err == nil && res.BytesReceived < size {
		res.Err = fmt.Errorf("%w after %d of %d bytes", errShortTransfer, res.BytesReceived, size)
	}
	if ctx.Err() != nil && res.Err != nil {
		res.Err = ctx.Err()
	}
	c.log.Debugf("TCP #%d: %d bytes in %s", id, res.BytesReceived, res.Elapsed)
	return res
}

// datagramTransfer ends when IdleTimeout passes without any datagram.
func (c *Client) datagramTransfer(ctx context.Context, addr *net.UDPAddr, id int, size uint64, prog *Progress) TransferResult {
	res := TransferResult{ID: id, Kind: Datagram, Requested: size}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(c.cfg.BindAddr)})
	if err != nil {
		res.Err = err
		return res
	}
	defer conn.Close()
	tuneUDP(conn, c.cfg.SocketBuffer)

	if _, err := conn.WriteToUDP(Encode(Request{FileSize: size}), addr); err != nil {
		res.Err = fmt.Errorf("send request: %w", err)
		return res
	}
	t0 := time.Now()
	idle := c.cfg.IdleTimeout.Duration
	segs := newSegmentSet()
	buf := make([]byte, c.cfg.BufferSize)
	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(idle))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				res.Err = err
			}
			break
		}
		p, err := DecodePayload(buf[:n])
		if err != nil {
			continue
		}
		segs.Add(p.TotalSegments, p.SegmentIndex)
		res.BytesReceived += uint64(len(p.Filler))
		prog.Advance(int64(len(p.Filler)))
	}
	res.Elapsed = time.Since(t0)
	res.SegmentsReceived = segs.Len()
	res.SegmentsTotal = segs.total
	if err := ctx.Err(); err != nil {
		res.Err = err
	}
	c.log.Debugf("UDP #%d: %d bytes, %d/%d segments in %s",
		id, res.BytesReceived, res.SegmentsReceived, res.SegmentsTotal, res.Elapsed)
	return res
}
