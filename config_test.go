package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 13117, cfg.OfferPort)
	require.Equal(t, time.Second, cfg.OfferInterval.Duration)
	require.Equal(t, time.Second, cfg.IdleTimeout.Duration)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netspeed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"stream_port": 6001,
		"offer_interval": "250ms",
		"idle_timeout": 2.5,
		"segment_size": 1400,
		"max_file_size": 1048576
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 6001, cfg.StreamPort)
	require.Equal(t, defaultDatagramPort, cfg.DatagramPort, "unset keys keep defaults")
	require.Equal(t, 250*time.Millisecond, cfg.OfferInterval.Duration)
	require.Equal(t, 2500*time.Millisecond, cfg.IdleTimeout.Duration)
	require.Equal(t, 1400, cfg.SegmentSize)
	require.Equal(t, uint64(1<<20), cfg.MaxFileSize)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"idle_timeout": "soon"}`), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"port":     func(c *Config) { c.StreamPort = 70000 },
		"bind":     func(c *Config) { c.BindAddr = "localhost" },
		"offer":    func(c *Config) { c.OfferAddr = "::1" },
		"segment":  func(c *Config) { c.SegmentSize = maxDatagram },
		"buffer":   func(c *Config) { c.BufferSize = 100 },
		"idle":     func(c *Config) { c.IdleTimeout = Duration{} },
		"maxsize":  func(c *Config) { c.MaxFileSize = 0 },
		"maxconns": func(c *Config) { c.MaxConnections = 0 },
		"bursts":   func(c *Config) { c.MaxBursts = 0 },
		"interval": func(c *Config) { c.OfferInterval = Duration{-time.Second} },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		require.ErrorIs(t, cfg.Validate(), errConfig, name)
	}
}

func TestCheckParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileSize = 1000
	cfg.MaxConnections = 4
	cfg.MaxWorkers = 3
	cfg.MaxBursts = 2

	require.NoError(t, cfg.CheckParams(RoundParams{FileSize: 1000, StreamConns: 2, DatagramConns: 2}))
	require.NoError(t, cfg.CheckParams(RoundParams{FileSize: 1, DatagramConns: 1}))

	for _, p := range []RoundParams{
		{FileSize: 0, StreamConns: 1},
		{FileSize: 1001, StreamConns: 1},
		{FileSize: 10},
		{FileSize: 10, StreamConns: -1, DatagramConns: 2},
		{FileSize: 10, StreamConns: 3, DatagramConns: 2},
		{FileSize: 10, StreamConns: 4},
		{FileSize: 10, StreamConns: 1, DatagramConns: 3},
	} {
		require.ErrorIs(t, cfg.CheckParams(p), ErrInvalidParams, "%+v", p)
	}
}
