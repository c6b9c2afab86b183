// Command pingpong runs the TCP ping-pong server or client.
//
// Usage:
//
//	pingpong server [flags] <port>
//	pingpong client [flags] <host> <port>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"

	"github.com/hossein/pingpong/internal/logging"
	"github.com/hossein/pingpong/pkg/pingpong"
)

const usage = `usage:
  pingpong server [-max-conns N] [-timeout D] [-metrics ADDR] [-debug] <port>
  pingpong client [-timeout D] [-socks ADDR] [-debug] <host> <port>
`

var errUsage = errors.New("invalid arguments")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches on the mode argument and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	var err error
	switch args[0] {
	case "server":
		err = runServer(ctx, args[1:], stderr)
	case "client":
		err = runClient(ctx, args[1:], stdout, stderr)
	default:
		err = errUsage
	}

	if errors.Is(err, errUsage) {
		fmt.Fprint(stderr, usage)
		return 1
	}
	if err != nil {
		slog.Error("pingpong: fatal", "err", err)
		return 1
	}
	return 0
}

type serverConfig struct {
	port        uint16
	maxConns    int
	timeout     time.Duration
	metricsAddr string
	debug       bool
}

func parseServerArgs(args []string, stderr io.Writer) (serverConfig, error) {
	var cfg serverConfig
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&cfg.maxConns, "max-conns", 0, "Maximum concurrent handlers (0 = unbounded)")
	fs.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Per-connection receive timeout (0 = none)")
	fs.StringVar(&cfg.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address, e.g. :9100")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return cfg, errUsage
	}
	if fs.NArg() != 1 {
		return cfg, errUsage
	}

	port, err := parsePort(fs.Arg(0))
	if err != nil {
		return cfg, err
	}
	cfg.port = port
	return cfg, nil
}

// runServer binds the port and serves until ctx is cancelled.
func runServer(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := parseServerArgs(args, stderr)
	if err != nil {
		return err
	}
	logging.Setup(cfg.debug)

	reg := prometheus.NewRegistry()
	metrics := pingpong.NewMetrics(reg)

	ln, err := pingpong.Start(ctx, cfg.port,
		pingpong.WithMaxConns(cfg.maxConns),
		pingpong.WithReadTimeout(cfg.timeout),
		pingpong.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	slog.Info("server: listening", "addr", ln.Addr(), "maxConns", cfg.maxConns)

	if cfg.metricsAddr != "" {
		go serveMetrics(ctx, cfg.metricsAddr, reg)
	}

	return ln.Serve(ctx)
}

// serveMetrics exposes reg on /metrics. Failures are logged, not fatal.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	slog.Info("server: metrics endpoint", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("server: metrics endpoint stopped", "addr", addr, "err", err)
	}
}

type clientConfig struct {
	host      string
	port      uint16
	timeout   time.Duration
	socksAddr string
	debug     bool
}

func parseClientArgs(args []string, stderr io.Writer) (clientConfig, error) {
	var cfg clientConfig
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "Dial and reply timeout (0 = none)")
	fs.StringVar(&cfg.socksAddr, "socks", "", "Connect through this SOCKS5 proxy, e.g. 127.0.0.1:1080")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return cfg, errUsage
	}
	if fs.NArg() != 2 || fs.Arg(0) == "" {
		return cfg, errUsage
	}

	port, err := parsePort(fs.Arg(1))
	if err != nil {
		return cfg, err
	}
	cfg.host = fs.Arg(0)
	cfg.port = port
	return cfg, nil
}

// runClient performs one exchange and prints the reply and RTT to stdout.
func runClient(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := parseClientArgs(args, stderr)
	if err != nil {
		return err
	}
	logging.Setup(cfg.debug)

	res, err := pingpong.RunClient(ctx, cfg.host, cfg.port,
		pingpong.WithTimeout(cfg.timeout),
		pingpong.WithSOCKS5(cfg.socksAddr),
	)
	if err != nil {
		return err
	}

	pterm.Fprintln(stdout, pterm.Sprintf("received: %s", res.Reply))
	pterm.Fprintln(stdout, pterm.Sprintf("rtt=%.3f ms", res.RTTMillis()))
	return nil
}

// parsePort accepts a decimal port in 1..65535.
func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return 0, errUsage
	}
	return uint16(p), nil
}
