package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenTestOffers(t *testing.T, cfg Config) *OfferListener {
	t.Helper()
	l, err := ListenOffers(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBroadcasterReachesListener(t *testing.T) {
	cfg := testConfig()
	l := listenTestOffers(t, cfg)
	cfg.OfferPort = l.Port()

	b, err := newBroadcaster(cfg, Offer{StreamPort: 5001, DatagramPort: 5002}, discardLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { b.Run(ctx); close(stopped) }()

	wctx, wcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer wcancel()
	d, err := l.WaitOffer(wctx)
	require.NoError(t, err)
	require.Equal(t, Offer{StreamPort: 5001, DatagramPort: 5002}, d.Offer)
	require.True(t, d.From.IP.IsLoopback())
	require.Equal(t, "127.0.0.1:5001", d.StreamAddr())
	require.Equal(t, 5002, d.DatagramAddr().Port)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcaster did not stop on cancel")
	}
}

func TestListenerDiscardsInvalidDatagrams(t *testing.T) {
	cfg := testConfig()
	l := listenTestOffers(t, cfg)

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: l.Port()})
	require.NoError(t, err)
	defer conn.Close()

	bad := Encode(Offer{StreamPort: 1, DatagramPort: 2})
	bad[0] = 0
	for _, b := range [][]byte{
		[]byte("not an offer"),
		bad,
		Encode(Request{FileSize: 10}),
		Encode(Offer{StreamPort: 1, DatagramPort: 2})[:6],
		Encode(Offer{StreamPort: 0, DatagramPort: 2}),
		Encode(Offer{StreamPort: 7001, DatagramPort: 7002}),
	} {
		_, err := conn.Write(b)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	d, err := l.WaitOffer(ctx)
	require.NoError(t, err)
	require.Equal(t, Offer{StreamPort: 7001, DatagramPort: 7002}, d.Offer)
}

func TestWaitOfferHonoursContext(t *testing.T) {
	l := listenTestOffers(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.WaitOffer(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}
