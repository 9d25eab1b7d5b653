package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joulia/joulia-live/internal/auth"
	"github.com/joulia/joulia-live/internal/brewery"
	"github.com/joulia/joulia-live/internal/config"
	"github.com/joulia/joulia-live/internal/live"
	"github.com/joulia/joulia-live/internal/livelog"
	"github.com/joulia/joulia-live/internal/store"
)

// Serve command flags
var (
	servePort    int
	serveHost    string
	serveStore   string
	serveQuiet   bool
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live server in the foreground",
	Long: `Run the live server until interrupted.

The server provides:
  - GET  /live/timeseries/socket/       streaming WebSocket
  - POST /live/recipeInstance/start/    long-poll until a recipe instance starts
  - POST /live/recipeInstance/end/      long-poll until it ends
  - POST /v1/timeseries                 record one measurement over HTTP
  - GET  /metrics                       Prometheus metrics

Flags override the matching config file settings.

Examples:
  joulia-live serve                     # Serve on localhost:8790
  joulia-live serve --port 9000         # Custom port
  joulia-live serve --store memory      # Keep measurements in memory only`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host (default from config)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "store driver: duckdb, sqlite or memory")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "disable request logging")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "allowed-origin", nil, "extra browser origin allowed to open the socket (repeatable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, &cfg)

	if err := initLogging(cfg.Log); err != nil {
		return err
	}
	defer livelog.Log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}

	instances, err := config.OpenInstances()
	if err != nil {
		return err
	}

	srv := live.NewServer(svc, live.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Quiet:           cfg.Server.Quiet,
		PingInterval:    cfg.Stream.PingDuration(),
		ShutdownTimeout: cfg.Server.ShutdownDuration(),
		StoreDriver:     cfg.Store.Driver,
		OriginPatterns:  cfg.Server.AllowedOrigins,
		Instances:       instances,
	})

	livelog.Log.Info("Starting live server", "addr", srv.Addr(), "store", cfg.Store.Driver)
	if !cfg.Server.Quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "joulia-live listening on http://%s\n", srv.Addr())
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("live server: %w", err)
	}
	livelog.Log.Info("Live server stopped")
	return nil
}

// applyServeFlags lets explicitly set flags win over the config file.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if flags.Changed("store") {
		cfg.Store.Driver = serveStore
	}
	if flags.Changed("quiet") {
		cfg.Server.Quiet = serveQuiet
	}
	if flags.Changed("allowed-origin") {
		cfg.Server.AllowedOrigins = serveOrigins
	}
	if rootCmd.PersistentFlags().Changed("verbose") {
		cfg.Log.Verbose = verbose
	}
	if logPath != "" {
		cfg.Log.File = logPath
	}
}

func initLogging(cfg config.LogConfig) error {
	livelog.SetVerbose(cfg.Verbose)
	if err := livelog.Init(cfg.File); err != nil {
		return fmt.Errorf("init log: %w", err)
	}
	return nil
}

// buildService loads the fleet and credentials and opens the store. The
// credentials file is watched for changes until ctx is done.
func buildService(ctx context.Context, cfg config.Config) (*live.Service, error) {
	catalog, err := brewery.LoadCatalog(cfg.Fleet.Path)
	if err != nil {
		return nil, err
	}
	dir, err := auth.LoadDirectory(cfg.Auth.Credentials)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Watch {
		if err := dir.Watch(ctx); err != nil {
			livelog.Log.Warn("Credential reload disabled", "error", err.Error())
		}
	}

	bridge := auth.NewBridge(dir, auth.NewTicketStore(), cfg.Auth.SessionCookie)
	svc, err := live.NewService(catalog, bridge, store.Options{
		Driver:        cfg.Store.Driver,
		Path:          cfg.Store.Path,
		BatchSize:     cfg.Store.BatchSize,
		FlushInterval: cfg.Store.FlushDuration(),
	}, live.Options{
		ChunkSize:       cfg.Stream.ChunkSize,
		SendQueue:       cfg.Stream.SendQueue,
		BacklogWorkers:  cfg.Stream.BacklogWorkers,
		LongPollTimeout: cfg.LongPoll.TimeoutDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("create live service: %w", err)
	}
	return svc, nil
}
