package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/netdiag/internal/config"
	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
	"github.com/KilimcininKorOglu/netdiag/internal/output"
	"github.com/KilimcininKorOglu/netdiag/internal/probe"
	"github.com/KilimcininKorOglu/netdiag/internal/server"
	"github.com/KilimcininKorOglu/netdiag/internal/trace"
	"github.com/KilimcininKorOglu/netdiag/internal/tui"
	"github.com/KilimcininKorOglu/netdiag/internal/vendor"
)

var (
	// Probe flags
	probeTimeout time.Duration
	pingBackend  string
	privileged   bool
	vendorURL    string
	tuiTheme     string

	// Server flags
	serveAddr   string
	allowOrigin string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve probes over HTTP",
	Long: `Serve probes over HTTP.

Routes:
  GET  /mac-vendor?mac=<mac>
  GET  /check-port?ip=<host>&port=<port>
  GET  /traceroute/<host>         (streamed as text/plain)
  POST /ping-once                 {"host": "<host>"}
  GET  /healthz`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var portCmd = &cobra.Command{
	Use:   "port <host> <port>",
	Short: "Check whether a TCP port accepts connections",
	Args:  cobra.ExactArgs(2),
	RunE:  runPort,
}

var pingCmd = &cobra.Command{
	Use:   "ping [host]",
	Short: "Send a single echo request",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPing,
}

var traceCmd = &cobra.Command{
	Use:   "trace [host]",
	Short: "Stream the route to a host",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTrace,
}

var runCmd = &cobra.Command{
	Use:   "run <operation> [key=value...]",
	Short: "Dispatch an operation with raw parameters",
	Long: `Dispatch an operation with raw parameters and print its envelope.

Operations: lookup-vendor (vendor), check-port (port), trace-route (trace),
ping-once (ping).

Examples:
  netdiag run check-port ip=10.0.0.1 port=22
  netdiag run vendor mac=00:1A:2B:3C:4D:5E
  netdiag --json run ping host=1.1.1.1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOperation,
}

var vendorCmd = &cobra.Command{
	Use:   "vendor <mac>",
	Short: "Look up the vendor of a hardware address",
	Args:  cobra.ExactArgs(1),
	RunE:  runVendor,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config: :3000)")
	serveCmd.Flags().StringVar(&allowOrigin, "allow-origin", "", "Access-Control-Allow-Origin value")

	portCmd.Flags().DurationVarP(&probeTimeout, "timeout", "w", 0, "Connect deadline")

	pingCmd.Flags().DurationVarP(&probeTimeout, "timeout", "w", 0, "Reply deadline")
	pingCmd.Flags().StringVar(&pingBackend, "backend", "", "Ping backend: icmp or goping")
	pingCmd.Flags().BoolVar(&privileged, "privileged", false, "Use raw sockets (requires root)")

	traceCmd.Flags().DurationVarP(&probeTimeout, "timeout", "w", 0, "Hard kill deadline")
	traceCmd.Flags().BoolVarP(&tuiMode, "tui", "t", false, "Interactive TUI mode")
	traceCmd.Flags().StringVar(&tuiTheme, "theme", "default", "TUI theme: default, light or minimal")

	vendorCmd.Flags().DurationVarP(&probeTimeout, "timeout", "w", 0, "Lookup deadline")
	vendorCmd.Flags().StringVar(&vendorURL, "url", "", "Vendor registry base URL")
}

// applyProbeFlags copies explicitly set probe flags over the loaded config.
func applyProbeFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		switch cmd.Name() {
		case "port":
			c.Probes.PortTimeout = probeTimeout
		case "ping":
			c.Probes.PingTimeout = probeTimeout
		case "trace":
			c.Trace.Timeout = probeTimeout
		case "vendor":
			c.Vendor.Timeout = probeTimeout
		}
	}
	if flags.Changed("backend") {
		c.Probes.PingBackend = pingBackend
	}
	if flags.Changed("privileged") {
		c.Probes.Privileged = privileged
	}
	if flags.Changed("url") {
		c.Vendor.BaseURL = vendorURL
	}
	if flags.Changed("addr") {
		c.Server.Addr = serveAddr
	}
	if flags.Changed("allow-origin") {
		c.Server.AllowOrigin = allowOrigin
	}
}

// newTracer builds the route tracer from configuration.
func newTracer(c *config.Config) (*trace.Tracer, error) {
	traceConfig := trace.DefaultConfig()
	traceConfig.Timeout = c.Trace.Timeout
	traceConfig.ReapTimeout = c.Trace.ReapTimeout
	traceConfig.Args = c.Trace.Args
	if c.Trace.Binary != "" {
		traceConfig.Binary = c.Trace.Binary
	}

	tracer, err := trace.New(traceConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	return tracer, nil
}

// newDispatcher wires every prober from configuration.
func newDispatcher(c *config.Config, logger zerolog.Logger) (*dispatch.Dispatcher, error) {
	pinger, err := probe.NewReachabilityProber(probe.ReachabilityConfig{
		Timeout:    c.Probes.PingTimeout,
		Backend:    c.Probes.PingBackend,
		Privileged: c.Probes.Privileged,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinger: %w", err)
	}

	tracer, err := newTracer(c)
	if err != nil {
		return nil, err
	}

	return dispatch.New(dispatch.Options{
		Vendors: vendor.NewClient(vendor.Config{
			BaseURL: c.Vendor.BaseURL,
			Timeout: c.Vendor.Timeout,
		}),
		Ports:  probe.NewPortProber(probe.PortProberConfig{Timeout: c.Probes.PortTimeout}),
		Pinger: pinger,
		Tracer: tracer,
		Logger: &logger,
	}), nil
}

// prepare applies flags and returns a dispatcher for a probe command.
func prepare(cmd *cobra.Command) (*dispatch.Dispatcher, error) {
	applyProbeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return newDispatcher(cfg, logger)
}

// report prints a response and turns a failure envelope into errProbeFailed.
func report(resp dispatch.Response) error {
	writer := output.NewWriter(output.FormatFor(jsonOutput, verbose), output.Config{Colors: !noColor})
	if err := writer.Write(resp); err != nil {
		return err
	}
	if !resp.OK {
		return errProbeFailed
	}
	return nil
}

// targetArg returns the first argument or prompts for one.
func targetArg(args []string, label string) (string, error) {
	if len(args) > 0 {
		return resolveTarget(args[0]), nil
	}
	target, err := promptForTarget(os.Stdin, label)
	if err != nil {
		return "", err
	}
	return resolveTarget(target), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := prepare(cmd)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		AllowOrigin:       cfg.Server.AllowOrigin,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,

		StreamWriteTimeout: cfg.Server.StreamWriteTimeout,
	}, d, logger)

	return srv.ListenAndServe(cmd.Context())
}

func runPort(cmd *cobra.Command, args []string) error {
	d, err := prepare(cmd)
	if err != nil {
		return err
	}
	return report(d.CheckPort(cmd.Context(), dispatch.Params{
		"host": resolveTarget(args[0]),
		"port": args[1],
	}))
}

func runPing(cmd *cobra.Command, args []string) error {
	host, err := targetArg(args, "host to ping")
	if err != nil {
		return err
	}
	d, err := prepare(cmd)
	if err != nil {
		return err
	}
	return report(d.PingOnce(cmd.Context(), dispatch.Params{"host": host}))
}

func runVendor(cmd *cobra.Command, args []string) error {
	d, err := prepare(cmd)
	if err != nil {
		return err
	}
	return report(d.LookupVendor(cmd.Context(), dispatch.Params{"mac": args[0]}))
}

func runOperation(cmd *cobra.Command, args []string) error {
	op, err := dispatch.ParseOperation(args[0])
	if err != nil {
		return err
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	d, err := prepare(cmd)
	if err != nil {
		return err
	}
	return report(d.Dispatch(cmd.Context(), op, params))
}

// parseParams turns key=value arguments into dispatch parameters, expanding
// aliases in host and ip.
func parseParams(args []string) (dispatch.Params, error) {
	params := dispatch.Params{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", arg)
		}
		if key == "host" || key == "ip" {
			value = resolveTarget(value)
		}
		params[key] = value
	}
	return params, nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	host, err := targetArg(args, "target (IP or hostname)")
	if err != nil {
		return err
	}

	if tuiMode {
		applyProbeFlags(cmd, cfg)
		tracer, err := newTracer(cfg)
		if err != nil {
			return err
		}
		styles := tui.Theme(tuiTheme)
		if noColor {
			styles = tui.MinimalTheme()
		}
		return tui.Run(cmd.Context(), host, tracer, styles)
	}

	d, err := prepare(cmd)
	if err != nil {
		return err
	}

	// Envelope output collects the whole transcript first
	if jsonOutput || verbose {
		return report(d.Dispatch(cmd.Context(), dispatch.OpTraceRoute, dispatch.Params{"host": host}))
	}

	session, failed := d.TraceRoute(cmd.Context(), dispatch.Params{"host": host})
	if failed != nil {
		return report(*failed)
	}

	streamer := output.NewTraceStreamer(os.Stdout, output.Config{Colors: !noColor && output.IsTerminal(os.Stdout)})
	if err := streamer.Header(session.Host()); err != nil {
		logger.Debug().Err(err).Msg("Writing trace header")
	}
	if _, err := streamer.Stream(session.Events()); err != nil {
		logger.Debug().Err(err).Msg("Writing trace output")
	}

	switch state := session.Wait(); state {
	case trace.StateKilled, trace.StateSpawnFailed:
		return errProbeFailed
	case trace.StateCanceled:
		return fmt.Errorf("trace interrupted")
	default:
		return nil
	}
}
