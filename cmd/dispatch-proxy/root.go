package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dispatchproxy/dispatch-proxy/internal/config"
	"github.com/dispatchproxy/dispatch-proxy/internal/dispatch"
	"github.com/dispatchproxy/dispatch-proxy/internal/metrics"
	"github.com/dispatchproxy/dispatch-proxy/internal/obslog"
	"github.com/dispatchproxy/dispatch-proxy/internal/socks5"
)

// shutdownGrace is how long in-flight connections get to finish after
// an interrupt before the process exits anyway (spec §5 Cancellation,
// "recommend 5 s").
const shutdownGrace = 5 * time.Second

type options struct {
	lhost       string
	lport       int
	list        bool
	tunnel      bool
	quiet       bool
	auto        bool
	metricsAddr string
}

// newRootCommand builds the dispatch-proxy cobra command per spec §6.
func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "dispatch-proxy [OPTIONS] [ADDRESSES]...",
		Short: "SOCKS5 proxy that spreads outbound connections across multiple egress paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.lhost, "lhost", "127.0.0.1", "local address to listen on")
	flags.IntVar(&opts.lport, "lport", 8080, "local port to listen on")
	flags.BoolVarP(&opts.list, "list", "l", false, "print local interfaces and exit")
	flags.BoolVarP(&opts.tunnel, "tunnel", "t", false, "tunnel mode: ADDRESSES are upstream SOCKS5 servers")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-fatal log output")
	flags.BoolVarP(&opts.auto, "auto", "a", false, "auto-detect local egress interfaces (implies normal mode)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (optional, disabled by default)")

	return cmd
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	logger := obslog.New(cmd.ErrOrStderr())
	if opts.quiet {
		logger.SetOutput(io.Discard)
	}

	if opts.list {
		return config.ListInterfaces(cmd.OutOrStdout())
	}

	if opts.auto && len(args) > 0 {
		logger.Printf("[main] --auto given; ignoring positional ADDRESSES %v", args)
		args = nil
	}

	if !opts.auto && len(args) == 0 {
		return &exitError{code: 1, err: fmt.Errorf("no ADDRESSES given (and --auto not set); see --help")}
	}

	var specs []config.BackendSpec
	var err error
	if opts.auto {
		if opts.tunnel {
			return &exitError{code: 1, err: fmt.Errorf("--auto implies normal mode; cannot combine with --tunnel")}
		}
		specs, err = config.AutoDetect(context.Background())
		if err != nil {
			return &exitError{code: 1, err: fmt.Errorf("auto-detect: %w", err)}
		}
		if len(specs) == 0 {
			return &exitError{code: 1, err: fmt.Errorf("auto-detect found no usable egress interfaces")}
		}
	} else {
		specs, err = config.ParseAddresses(args, opts.tunnel)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
	}

	backends, err := config.BuildBackends(specs)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	dispatcher, err := dispatch.New(backends)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	server := socks5.New(dispatcher, logger)
	server.Metrics = m

	listenAddr := net.JoinHostPort(opts.lhost, strconv.Itoa(opts.lport))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("listen %s: %w", listenAddr, err)}
	}

	mode := "direct"
	if opts.tunnel {
		mode = "tunnel"
	}
	if opts.auto {
		mode = "direct (auto-detected)"
	}
	obslog.Banner(opts.quiet, listenAddr, mode, len(backends))
	if !opts.quiet {
		logger.Printf("[main] listening on %s, mode=%s, %d backend(s)", listenAddr, mode, len(backends))
	}

	if opts.metricsAddr != "" {
		go serveMetrics(logger, opts.metricsAddr, reg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, ln)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("[main] received signal %s, shutting down...", sig)
		cancel()
		select {
		case <-errCh:
		case <-time.After(shutdownGrace):
			logger.Printf("[main] shutdown grace period elapsed, exiting")
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return &exitError{code: 2, err: fmt.Errorf("listener failure: %w", err)}
		}
		return nil
	}
}

// serveMetrics runs the Prometheus HTTP handler until it fails; any
// failure is logged, not fatal (the metrics endpoint is strictly
// ambient — see spec_full §4.7).
func serveMetrics(logger *log.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Printf("[main] metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("[main] metrics server stopped: %v", err)
	}
}

// exitError carries the process exit code spec §6 assigns to each
// failure class (1 = config/startup, 2 = runtime fatal).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
