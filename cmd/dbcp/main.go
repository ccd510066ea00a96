// dbcp opens a pooled PostgreSQL data source and serves its monitoring
// endpoints.
//
// Usage:
//
//	dbcp [flags]
//	dbcp init [path]
//	dbcp check
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.dbcp/config.toml")
//	-dsn string
//	    Database DSN (overrides config)
//	-name string
//	    Data source name (overrides config)
//	-admin string
//	    Admin listen address (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
//
// Library packages log through github.com/go-i2p/logger, which is
// controlled by the DEBUG_I2P environment variable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-i2p/dbcp/lib/admin"
	"github.com/go-i2p/dbcp/lib/config"
	"github.com/go-i2p/dbcp/lib/datasource"
	"github.com/go-i2p/dbcp/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".dbcp", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	dsn := flag.String("dsn", "", "Database DSN (overrides config)")
	name := flag.String("name", "", "Data source name (overrides config)")
	adminAddr := flag.String("admin", "", "Admin listen address (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dbcp - pooled database connections\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  dbcp [flags]         Open the data source and serve admin endpoints\n")
		fmt.Fprintf(os.Stderr, "  dbcp init [path]     Write a default configuration file\n")
		fmt.Fprintf(os.Stderr, "  dbcp check           Validate the configuration and exit\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("dbcp version %s\n", version.Full())
		return 0
	}

	args := flag.Args()
	if len(args) > 0 && args[0] == "init" {
		path := *configPath
		if len(args) > 1 {
			path = args[1]
		}
		return handleInit(path)
	}

	cfg, err := config.Read(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *dsn != "" {
		cfg.DataSource.DSN = *dsn
	}
	if *name != "" {
		cfg.DataSource.Name = *name
	}
	if *adminAddr != "" {
		cfg.Admin.Listen = *adminAddr
	}

	level := parseLevel(cfg.Logging.Level)
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "path", *configPath, "error", err)
		return 1
	}
	if len(args) > 0 && args[0] == "check" {
		fmt.Printf("%s: configuration ok\n", *configPath)
		return 0
	}

	return serve(cfg, logger)
}

func serve(cfg *config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := datasource.Open(ctx, cfg)
	if err != nil {
		logger.Error("failed to open data source", "name", cfg.DataSource.Name, "error", err)
		return 1
	}
	defer ds.Terminate()

	if err := ping(ctx, ds); err != nil {
		logger.Error("database is not reachable", "name", ds.Name(), "error", err)
		return 1
	}

	var srv *admin.Server
	if cfg.Admin.Listen != "" {
		srv = admin.NewServer(admin.Config{ListenAddr: cfg.Admin.Listen}, ds.Monitor())
		if err := srv.Start(); err != nil {
			logger.Error("failed to start admin server", "addr", cfg.Admin.Listen, "error", err)
			return 1
		}
		logger.Info("admin endpoints available", "url", fmt.Sprintf("http://%s/", srv.Addr()))
	}

	logger.Info("dbcp started",
		"name", ds.Name(),
		"initial_size", cfg.Pool.InitialSize,
		"max_size", cfg.Pool.MaxSize,
		"version", version.Version,
	)

	<-ctx.Done()
	logger.Info("received signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code := 0
	if srv != nil {
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("admin shutdown error", "error", err)
			code = 1
		}
	}
	ds.Terminate()
	logger.Info("dbcp stopped")
	return code
}

// ping leases one connection and checks it against the database.
func ping(ctx context.Context, ds *datasource.DataSource) error {
	c, err := ds.Conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Ping(ctx)
}

func handleInit(path string) int {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists\n", path)
		return 1
	}
	if err := config.Save(config.Default(), path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	fmt.Println("Set datasource.dsn before starting dbcp.")
	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
