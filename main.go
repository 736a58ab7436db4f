// netspeed: network speed test over TCP and UDP.
//
// The server broadcasts offers on the LAN; a client picks up the first offer,
// downloads the requested amount of filler over N TCP and M UDP connections in
// parallel and reports speed and packet loss per connection.
//
// Usage:
//
//	netspeed server
//	netspeed client
//	netspeed client --size 10MB --tcp 2 --udp 2 --rounds 1
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func usage() {
	fmt.Println(`netspeed -- network speed test (TCP + UDP)

Usage:
  netspeed server [options]     Broadcast offers and serve transfers
  netspeed client [options]     Wait for an offer and measure

Server options:
  --tcp-port N      TCP service port (default 5001)
  --udp-port N      UDP service port (default 5002)

Client options:
  --size S          File size per connection, e.g. 1000000 or 10MB (prompt if omitted)
  --tcp N           TCP connections (default 1 with --size)
  --udp N           UDP connections (default 1 with --size)
  --rounds N        Stop after N rounds (default 0 = forever)
  --db DSN          Also store results in MySQL, e.g. user:pw@tcp(host:3306)/netspeed
  --quiet           No progress bar

Common options:
  --config FILE     JSON config file
  --offer-port N    UDP offer port (default 13117)
  --offer-addr A    Broadcast or multicast address for offers (default 255.255.255.255)
  --bind A          Local address to bind
  --log-file F      Write the log to F (rotated at 10 MB) instead of stderr
  -v N              Log level 0-2 (default 1)

Examples:
  netspeed server --tcp-port 6001 --udp-port 6002
  netspeed client --size 1GB --tcp 4 --udp 1`)
}

// commonFlags are shared by both subcommands and override the config file.
type commonFlags struct {
	config    string
	offerPort int
	offerAddr string
	bind      string
	logFile   string
	verbose   int
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "JSON config file")
	fs.IntVar(&c.offerPort, "offer-port", defaultOfferPort, "UDP offer port")
	fs.StringVar(&c.offerAddr, "offer-addr", defaultOfferAddr, "offer broadcast/multicast address")
	fs.StringVar(&c.bind, "bind", "", "local address to bind")
	fs.StringVar(&c.logFile, "log-file", "", "rotated log file instead of stderr")
	fs.IntVar(&c.verbose, "v", levelInfo, "log level 0-2")
}

// load reads the config file and applies only the flags given on the command line.
func (c *commonFlags) load(fs *flag.FlagSet, extra func(name string, cfg *Config)) (Config, error) {
	cfg, err := LoadConfig(c.config)
	if err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "offer-port":
			cfg.OfferPort = c.offerPort
		case "offer-addr":
			cfg.OfferAddr = c.offerAddr
		case "bind":
			cfg.BindAddr = c.bind
		case "log-file":
			cfg.LogFile = c.logFile
		default:
			if extra != nil {
				extra(f.Name, &cfg)
			}
		}
	})
	return cfg, cfg.Validate()
}

// logger writes to the configured log file, or stderr when there is none.
func (c *commonFlags) logger(cfg Config, component string) (*Logger, func() error) {
	if cfg.LogFile == "" {
		return newLogger(os.Stderr, component, c.verbose), func() error { return nil }
	}
	f := openLogFile(cfg.LogFile)
	return newLogger(f, component, c.verbose), f.Close
}

// localIP returns the address of the interface used for outbound traffic.
func localIP() string {
	c, err := net.Dial("udp4", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).IP.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// SERVER
// ─────────────────────────────────────────────────────────────────────────────

func runServer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	tcpPortFlag := fs.Int("tcp-port", defaultStreamPort, "TCP service port")
	udpPortFlag := fs.Int("udp-port", defaultDatagramPort, "UDP service port")
	fs.Parse(args)

	cfg, err := common.load(fs, func(name string, cfg *Config) {
		switch name {
		case "tcp-port":
			cfg.StreamPort = *tcpPortFlag
		case "udp-port":
			cfg.DatagramPort = *udpPortFlag
		}
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog := common.logger(cfg, "server")
	defer closeLog()

	srv := NewServer(cfg, log)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("cannot start server: %w", err)
	}
	offer, _ := srv.Offer()
	fmt.Printf("Server started, listening on IP address %s  (TCP %d, UDP %d, offers to %s:%d)\n",
		localIP(), offer.StreamPort, offer.DatagramPort, cfg.OfferAddr, cfg.OfferPort)

	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	fmt.Println("\nServer shutting down.")
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CLIENT
// ─────────────────────────────────────────────────────────────────────────────

func runClient(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	sizeStr := fs.String("size", "", "file size per connection")
	tcpN := fs.Int("tcp", 1, "TCP connections")
	udpN := fs.Int("udp", 1, "UDP connections")
	rounds := fs.Int("rounds", 0, "stop after N rounds")
	dsn := fs.String("db", "", "MySQL DSN for storing results")
	quiet := fs.Bool("quiet", false, "no progress bar")
	fs.Parse(args)

	cfg, err := common.load(fs, nil)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog := common.logger(cfg, "client")
	defer closeLog()

	var fixed *RoundParams
	if *sizeStr != "" {
		size, err := parseSize(*sizeStr)
		if err != nil {
			return fmt.Errorf("--size: %w", err)
		}
		p := RoundParams{FileSize: size, StreamConns: *tcpN, DatagramConns: *udpN}
		if err := cfg.CheckParams(p); err != nil {
			return err
		}
		fixed = &p
	}

	var sink ResultSink
	if *dsn != "" {
		s, err := openMySQLSink(ctx, *dsn)
		if err != nil {
			return fmt.Errorf("results database: %w", err)
		}
		defer s.Close()
		sink = s
	}

	client := NewClient(cfg, log)
	if !*quiet {
		client.progress = os.Stderr
	}
	sc := bufio.NewScanner(os.Stdin)

	for n := 0; *rounds == 0 || n < *rounds; n++ {
		fmt.Println("Client started, listening for offer requests...")
		d, err := discoverServer(ctx, cfg, log)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("discovery: %w", err)
		}
		fmt.Printf("Received offer from %s  (TCP %d, UDP %d)\n", d.From.IP, d.StreamPort, d.DatagramPort)

		params := RoundParams{}
		if fixed != nil {
			params = *fixed
		} else if params, err = promptParams(sc, os.Stdout, &cfg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("input: %w", err)
		}

		round, err := client.RunRound(ctx, d, params)
		if err != nil {
			fmt.Printf("  %v\n", err)
			continue
		}
		printRound(os.Stdout, round)
		if sink != nil {
			if err := sink.SaveRound(context.WithoutCancel(ctx), round); err != nil {
				log.Errorf("store round %s: %v", round.ID, err)
			}
		}
		if ctx.Err() != nil {
			break
		}
		fmt.Println("All transfers complete, listening to offer requests")
	}
	fmt.Println("\nClient shutting down.")
	return nil
}

// discoverServer holds the offer port only until the first valid offer.
func discoverServer(ctx context.Context, cfg Config, log *Logger) (Discovered, error) {
	l, err := ListenOffers(cfg, log)
	if err != nil {
		return Discovered{}, err
	}
	defer l.Close()
	return l.WaitOffer(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// ENTRY POINT
// ─────────────────────────────────────────────────────────────────────────────

func main() {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" || args[0] == "help" {
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd := strings.ToLower(args[0]); cmd {
	case "server":
		err = runServer(ctx, args[1:])
	case "client":
		err = runClient(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
