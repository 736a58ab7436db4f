package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	for in, want := range map[string]uint64{
		"1000000": 1_000_000,
		"10KB":    10 << 10,
		"10 kb":   10 << 10,
		"3M":      3 << 20,
		"1GB":     1 << 30,
		"512B":    512,
	} {
		got, err := parseSize(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "-1", "1.5MB", "lots", "99999999999999999999GB"} {
		_, err := parseSize(in)
		require.ErrorIs(t, err, errBadSize, in)
	}
}

func TestFmtRate(t *testing.T) {
	require.Equal(t, "0.00 bit/s", fmtRate(0))
	require.Equal(t, "8.00 Mbit/s", fmtRate(8_000_000))
	require.Equal(t, "1.25 Gbit/s", fmtRate(1.25e9))
	require.Equal(t, "0.50s", fmtTime(0.5))
	require.Equal(t, "2m05s", fmtTime(125))
	require.Equal(t, "1.0 MB", strings.TrimSpace(fmtSize(1<<20)))
}

func TestFormatRecord(t *testing.T) {
	tcp := formatRecord(Summarize(TransferResult{
		ID: 1, Kind: Stream, Requested: 1000, BytesReceived: 1000, Elapsed: time.Second,
	}))
	require.Contains(t, tcp, "TCP transfer #1 finished")
	require.Contains(t, tcp, "8.00 Kbit/s")
	require.NotContains(t, tcp, "packets received")

	udp := formatRecord(Summarize(TransferResult{
		ID: 2, Kind: Datagram, Requested: 10_000, BytesReceived: 5000, Elapsed: time.Second,
		SegmentsReceived: 5, SegmentsTotal: 10,
	}))
	require.Contains(t, udp, "UDP transfer #2 finished")
	require.Contains(t, udp, "received successfully: 50.00% (5/10)")

	failed := formatRecord(Summarize(TransferResult{ID: 3, Kind: Stream, Err: errors.New("connection refused")}))
	require.Equal(t, "TCP transfer #3 failed: connection refused", failed)

	zero := formatRecord(Summarize(TransferResult{ID: 4, Kind: Stream, Requested: 1, BytesReceived: 1}))
	require.Contains(t, zero, "total speed: n/a")
}

func TestPrintRound(t *testing.T) {
	r := newRound(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 13117}, RoundParams{FileSize: 1000, StreamConns: 1})
	r.Records = append(r.Records, Summarize(TransferResult{ID: 1, Kind: Stream, Requested: 1000, BytesReceived: 1000, Elapsed: time.Second}))
	r.Wall = time.Second

	var out bytes.Buffer
	printRound(&out, r)
	require.Contains(t, out.String(), r.ID)
	require.Contains(t, out.String(), "10.0.0.1:13117")
	require.Contains(t, out.String(), "TCP transfer #1")
}

func TestPromptParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 10
	in := strings.Join([]string{
		// first round: one bad size, one bad count
		"abc", "10MB", "-2", "2", "0",
		// second round: no connections is refused, then a valid answer
		"1000", "0", "0",
		"1KB", "3", "4",
	}, "\n")
	var out bytes.Buffer
	sc := bufio.NewScanner(strings.NewReader(in))

	p, err := promptParams(sc, &out, &cfg)
	require.NoError(t, err)
	require.Equal(t, RoundParams{FileSize: 10 << 20, StreamConns: 2, DatagramConns: 0}, p)
	require.Contains(t, out.String(), "bad size")
	require.Contains(t, out.String(), "non-negative integer")

	p, err = promptParams(sc, &out, &cfg)
	require.NoError(t, err)
	require.Equal(t, RoundParams{FileSize: 1 << 10, StreamConns: 3, DatagramConns: 4}, p)
	require.Contains(t, out.String(), "at least one TCP or UDP connection")

	_, err = promptParams(sc, &out, &cfg)
	require.ErrorIs(t, err, io.EOF)
}

func TestProgressNilSafe(t *testing.T) {
	var p *Progress
	p.Advance(10)
	p.Finish()

	var out bytes.Buffer
	p = newProgress(&out, "transfer", 100)
	p.Advance(100)
	p.Finish()
	require.Contains(t, out.String(), "100.0%")
}
