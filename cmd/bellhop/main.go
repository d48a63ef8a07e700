package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/bellhop/pkg/api"
	"github.com/cuemby/bellhop/pkg/config"
	"github.com/cuemby/bellhop/pkg/health"
	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/manager"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bellhop",
	Short: "Bellhop - live order and reservation boards for restaurants",
	Long: `Bellhop watches a restaurant's orders and table reservations, rings the
front desk when something new arrives, and moves each record through its
lifecycle, sending the customer exactly one email per notifying transition.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Bellhop version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("addr", "127.0.0.1:8080", "Address of the bellhop HTTP API")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a bellhop node",
	Long: `Run a bellhop node: open the configured boards, watch their record
store through the push channel and the poll loop, and serve the HTTP API,
the websocket stream and the gRPC health service.

Flags override values from the config file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to a YAML config file")
	serveCmd.Flags().String("data-dir", "", "Data directory for the local store")
	serveCmd.Flags().String("http-addr", "", "Listen address for the HTTP API")
	serveCmd.Flags().String("grpc-addr", "", "Listen address for the gRPC health service")
	serveCmd.Flags().String("device-id", "", "Name of this device for audio activation")
	serveCmd.Flags().Duration("poll-interval", 0, "Interval between store polls")
	serveCmd.Flags().StringSlice("board", nil, "Board to open as tenant/kind (repeatable)")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Log in JSON")
}

// serveConfig loads the config file and applies flag overrides
func serveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr, _ = flags.GetString("http-addr")
	}
	if flags.Changed("grpc-addr") {
		cfg.GRPCAddr, _ = flags.GetString("grpc-addr")
	}
	if flags.Changed("device-id") {
		cfg.DeviceID, _ = flags.GetString("device-id")
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval, _ = flags.GetDuration("poll-interval")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("board") {
		boards, _ := flags.GetStringSlice("board")
		for _, b := range boards {
			tenant, kind, ok := strings.Cut(b, "/")
			if !ok {
				return nil, fmt.Errorf("board %q must be tenant/kind", b)
			}
			cfg.Boards = append(cfg.Boards, config.BoardConfig{Tenant: tenant, Kind: kind})
		}
	}

	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := serveConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

	fmt.Println("Starting bellhop...")
	fmt.Printf("  Device: %s\n", cfg.DeviceID)
	fmt.Printf("  HTTP Address: %s\n", cfg.HTTPAddr)
	fmt.Printf("  gRPC Address: %s\n", cfg.GRPCAddr)
	fmt.Printf("  Records: %s (feed: %s)\n", cfg.Records.Backend, cfg.Feed.Backend)
	fmt.Printf("  Sent Ledger: %s\n", cfg.Ledger.Backend)
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Println()

	mgr, err := manager.NewManager(cfg)
	if err != nil {
		metrics.RegisterComponent("records", false, err.Error())
		return fmt.Errorf("failed to create manager: %w", err)
	}
	metrics.RegisterComponent("records", true, cfg.Records.Backend)
	metrics.RegisterComponent("ledger", true, cfg.Ledger.Backend)
	fmt.Println("✓ Backends opened")

	ctx := context.Background()
	if err := mgr.OpenConfigured(ctx); err != nil {
		mgr.Shutdown()
		return fmt.Errorf("failed to open boards: %w", err)
	}
	for _, board := range mgr.Boards() {
		fmt.Printf("✓ Board %s opened\n", board)
	}

	collector := manager.NewMetricsCollector(mgr)
	collector.Start()

	monitor := health.NewMonitor(health.DefaultConfig())
	for name, checker := range mgr.Probes() {
		monitor.Add(name, checker)
	}
	monitor.Start()
	if names := monitor.Names(); len(names) > 0 {
		fmt.Printf("✓ Probing backends: %s\n", strings.Join(names, ", "))
	}

	// Start API servers in background
	apiServer := api.NewServer(mgr, Version)
	errCh := make(chan error, 2)
	go func() {
		if err := apiServer.Start(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("HTTP API error: %w", err)
		}
	}()
	if cfg.GRPCAddr != "" {
		go func() {
			if err := apiServer.StartGRPC(cfg.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("gRPC health error: %w", err)
			}
		}()
	}
	metrics.RegisterComponent("api", true, cfg.HTTPAddr)
	fmt.Println("✓ API started")

	fmt.Println()
	fmt.Println("Bellhop is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "API shutdown: %v\n", err)
	}
	monitor.Stop()
	collector.Stop()
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
