package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordRow(t *testing.T) {
	r := newRound(&net.UDPAddr{IP: net.IPv4(192, 168, 1, 7), Port: 13117}, RoundParams{FileSize: 1000, StreamConns: 1, DatagramConns: 1})

	tcp := recordRow(r, Summarize(TransferResult{
		ID: 1, Kind: Stream, Requested: 1000, BytesReceived: 1000, Elapsed: 2 * time.Millisecond,
	}))
	require.Len(t, tcp, 11)
	require.Equal(t, r.ID, tcp[0])
	require.Equal(t, "192.168.1.7:13117", tcp[1])
	require.Equal(t, 1, tcp[2])
	require.Equal(t, "TCP", tcp[3])
	require.Equal(t, int64(2000), tcp[6])
	require.Equal(t, sql.NullFloat64{Float64: 4_000_000, Valid: true}, tcp[7])
	require.False(t, tcp[8].(sql.NullFloat64).Valid, "streams store no loss")
	require.False(t, tcp[9].(sql.NullString).Valid)

	udp := recordRow(r, Summarize(TransferResult{
		ID: 2, Kind: Datagram, Requested: 1000, Err: errors.New("read: boom"),
	}))
	require.Equal(t, "UDP", udp[3])
	require.False(t, udp[7].(sql.NullFloat64).Valid, "zero elapsed has no speed")
	require.Equal(t, sql.NullFloat64{Float64: 100, Valid: true}, udp[8])
	require.Equal(t, sql.NullString{String: "read: boom", Valid: true}, udp[9])
	require.Equal(t, time.UTC, udp[10].(time.Time).Location())
}

func TestOpenMySQLSinkBadDSN(t *testing.T) {
	_, err := openMySQLSink(context.Background(), "not a dsn")
	require.ErrorContains(t, err, "parse dsn")
}
