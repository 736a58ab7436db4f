package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	defaultStreamPort   = 5001
	defaultDatagramPort = 5002
	defaultOfferPort    = 13117
	defaultOfferAddr    = "255.255.255.255"
	defaultSegmentSize  = 1024
	defaultStreamChunk  = 64 * 1024
	sockBuf             = 16 * 1024 * 1024 // 16 MiB
)

// Duration is a time.Duration that reads "1.5s" or plain seconds from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		d.Duration = v
		return nil
	}
	secs, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("duration %s: want a string like \"1s\" or seconds", b)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

// Config is shared by server and client; each side reads the fields it needs.
type Config struct {
	BindAddr     string `json:"bind_addr"`
	StreamPort   int    `json:"stream_port"`
	DatagramPort int    `json:"datagram_port"`

	OfferAddr     string   `json:"offer_addr"`
	OfferPort     int      `json:"offer_port"`
	OfferInterval Duration `json:"offer_interval"`
	OfferTTL      int      `json:"offer_ttl"`

	SegmentSize  int      `json:"segment_size"`
	SegmentDelay Duration `json:"segment_delay"`
	StreamChunk  int      `json:"stream_chunk"`
	BufferSize   int      `json:"buffer_size"`
	SocketBuffer int      `json:"socket_buffer"`

	IdleTimeout    Duration `json:"idle_timeout"`
	ConnectTimeout Duration `json:"connect_timeout"`
	StreamTimeout  Duration `json:"stream_timeout"`
	RequestTimeout Duration `json:"request_timeout"`

	MaxFileSize    uint64 `json:"max_file_size"`
	MaxConnections int    `json:"max_connections"`
	MaxWorkers     int    `json:"max_workers"` // concurrent stream handlers
	MaxBursts      int    `json:"max_bursts"`  // concurrent datagram bursts

	LogFile string `json:"log_file"`
}

func DefaultConfig() Config {
	return Config{
		StreamPort:     defaultStreamPort,
		DatagramPort:   defaultDatagramPort,
		OfferAddr:      defaultOfferAddr,
		OfferPort:      defaultOfferPort,
		OfferInterval:  Duration{time.Second},
		OfferTTL:       4,
		SegmentSize:    defaultSegmentSize,
		StreamChunk:    defaultStreamChunk,
		BufferSize:     maxDatagram,
		SocketBuffer:   sockBuf,
		IdleTimeout:    Duration{time.Second},
		ConnectTimeout: Duration{5 * time.Second},
		StreamTimeout:  Duration{5 * time.Minute},
		RequestTimeout: Duration{5 * time.Second},
		MaxFileSize:    10 << 30, // 10 GiB
		MaxConnections: 256,
		MaxWorkers:     50,
		MaxBursts:      256,
	}
}

// LoadConfig overlays the JSON file at path on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

var errConfig = errors.New("invalid config")

func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", errConfig, fmt.Sprintf(format, args...))
	}
	for name, p := range map[string]int{
		"stream_port": c.StreamPort, "datagram_port": c.DatagramPort, "offer_port": c.OfferPort,
	} {
		if p < 0 || p > 65535 {
			return bad("%s %d out of range", name, p)
		}
	}
	if c.BindAddr != "" && net.ParseIP(c.BindAddr) == nil {
		return bad("bind_addr %q is not an IP", c.BindAddr)
	}
	if ip := net.ParseIP(c.OfferAddr); ip == nil || ip.To4() == nil {
		return bad("offer_addr %q is not an IPv4 address", c.OfferAddr)
	}
	if c.OfferInterval.Duration <= 0 {
		return bad("offer_interval must be positive")
	}
	if c.SegmentSize <= 0 || c.SegmentSize > maxDatagram-payloadHdrLen {
		return bad("segment_size %d not in 1..%d", c.SegmentSize, maxDatagram-payloadHdrLen)
	}
	if c.BufferSize < payloadHdrLen+c.SegmentSize {
		return bad("buffer_size %d cannot hold a %d byte segment", c.BufferSize, c.SegmentSize)
	}
	if c.StreamChunk <= 0 {
		return bad("stream_chunk must be positive")
	}
	if c.IdleTimeout.Duration <= 0 {
		return bad("idle_timeout must be positive")
	}
	if c.MaxFileSize == 0 {
		return bad("max_file_size must be positive")
	}
	if c.MaxConnections <= 0 || c.MaxWorkers <= 0 || c.MaxBursts <= 0 {
		return bad("max_connections, max_workers and max_bursts must be positive")
	}
	return nil
}

func (c *Config) offerDest() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(c.OfferAddr), Port: c.OfferPort}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
