package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/netdiag/internal/config"
	"github.com/KilimcininKorOglu/netdiag/internal/logging"
)

// errProbeFailed marks a command whose failure envelope was already printed.
var errProbeFailed = errors.New("probe failed")

var (
	// Flags
	verbose    bool
	jsonOutput bool
	noColor    bool
	tuiMode    bool
	logLevel   string
	logFormat  string

	// Config file
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "netdiag",
	Short: "Single-target network diagnostics",
	Long: `netdiag - single-target network diagnostics

netdiag answers four questions about one target at a time: which vendor
owns a hardware address, whether a TCP port accepts connections, whether
a host replies to ping, and which route packets take to reach it.

Every probe runs under a hard deadline and reports a uniform result
envelope. The same probes are served over HTTP by 'netdiag serve'.

Examples:
  netdiag port example.com 443     Check a TCP port
  netdiag ping 1.1.1.1             Send one echo request
  netdiag trace example.com        Stream a route trace
  netdiag trace --tui example.com  Interactive trace viewer
  netdiag vendor 00:1A:2B:3C:4D:5E Look up a hardware vendor
  netdiag serve --addr :8080       Run the HTTP server
  netdiag run check-port ip=10.0.0.1 port=22
                                   Dispatch an operation by name
  netdiag --json port dns 53       JSON envelope, using an alias
  netdiag config --init            Create default config file`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/netdiag/config.yaml)")

	// Output flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed table output")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output the result envelope as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(portCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(vendorCmd)
	rootCmd.AddCommand(runCmd)
}

// loadConfig loads configuration from file, applies defaults and sets up
// logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error

	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply config defaults if flags not explicitly set
	applyConfigDefaults(cmd)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err = logging.Setup(os.Stderr, logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		NoColor: noColor,
	})
	if err != nil {
		return err
	}
	if cfg.Source != "" {
		logger.Debug().Str("path", cfg.Source).Msg("Loaded config")
	}

	return nil
}

// applyConfigDefaults applies config file values for unset flags
func applyConfigDefaults(cmd *cobra.Command) {
	if cfg == nil {
		return
	}

	defaults := cfg.Defaults

	// Output mode from config (if no flag set)
	if !cmd.Flags().Changed("tui") && defaults.TUI {
		tuiMode = true
	}
	if !cmd.Flags().Changed("verbose") && defaults.Verbose {
		verbose = true
	}
	if !cmd.Flags().Changed("json") && defaults.JSON {
		jsonOutput = true
	}
	if !cmd.Flags().Changed("no-color") && defaults.NoColor {
		noColor = true
	}

	// Logging flags override the config file
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netdiag %s\n", version)
		fmt.Printf("  Commit: %s\n", commit)
		fmt.Printf("  Built:  %s\n", date)
		fmt.Printf("  Config: %s\n", config.GetConfigPath())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage netdiag configuration file.

Commands:
  netdiag config --init     Create default config file
  netdiag config --show     Show example configuration
  netdiag config --path     Show config file path`,
	RunE: runConfig,
}

var (
	configInit bool
	configShow bool
	configPath bool
)

func init() {
	configCmd.Flags().BoolVar(&configInit, "init", false, "Create default config file")
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show example configuration")
	configCmd.Flags().BoolVar(&configPath, "path", false, "Show config file path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configPath {
		fmt.Println(config.GetConfigPath())
		return nil
	}

	if configInit {
		path := config.GetConfigPath()

		// Check if file already exists
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}

		if err := config.DefaultConfig().Save(); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}

		fmt.Printf("Created config file: %s\n", path)
		fmt.Println("\nEdit this file to customize defaults.")
		fmt.Println("Example: Set 'json: true' under 'defaults:' to always print envelopes.")
		return nil
	}

	if configShow {
		fmt.Println(config.GenerateExample())
		return nil
	}

	// No flag specified, show help
	return cmd.Help()
}

// promptForTarget displays an interactive prompt for the user to enter a target
func promptForTarget(in io.Reader, label string) (string, error) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("╔═══════════════════════════════════════════════════════════╗")
	cyan.Println("║         netdiag - Single-Target Network Diagnostics       ║")
	cyan.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	// Show aliases if any
	if cfg != nil && len(cfg.Aliases) > 0 {
		fmt.Println("  Aliases:")
		for alias, target := range cfg.Aliases {
			yellow.Printf("    • %s → %s\n", alias, target)
		}
		fmt.Println()
	}

	reader := bufio.NewReader(in)

	for {
		green.Printf("  Enter %s: ", label)
		os.Stdout.Sync()

		input, err := reader.ReadString('\n')
		target := strings.TrimSpace(input)
		if err != nil {
			if errors.Is(err, io.EOF) && target != "" {
				return target, nil
			}
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("no input provided")
			}
			return "", fmt.Errorf("failed to read input: %w", err)
		}

		if target == "" {
			color.Red("  ✗ Target cannot be empty. Please try again.")
			fmt.Println()
			continue
		}

		fmt.Println()
		return target, nil
	}
}

// resolveTarget expands configured aliases.
func resolveTarget(target string) string {
	return cfg.Resolve(target)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets version information for the CLI.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}
