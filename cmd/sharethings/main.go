package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/config"
	"github.com/jsbattig/share-things-sub004/pkg/server"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `ShareThings - End-to-end-encrypted content sharing hub

Usage:
  sharethings <command> [flags]

Commands:
  init     Initialize a sample configuration file
  start    Start the ShareThings server
  version  Show version information

Flags:
  --config string    Path to config file (default: $XDG_CONFIG_HOME/sharethings/config.yaml)
  --force            Force overwrite existing config file (init command only)

Examples:
  # Initialize config file
  sharethings init

  # Start server with default config location
  sharethings start

  # Start server with custom config
  sharethings start --config /etc/sharethings/config.yaml

  # Use environment variables to override config
  SHARETHINGS_LOGGING_LEVEL=DEBUG sharethings start

Environment Variables:
  All configuration options can be overridden using environment variables.
  Format: SHARETHINGS_<SECTION>_<KEY> (use underscores for nested keys)

  Examples:
    SHARETHINGS_LOGGING_LEVEL=DEBUG
    SHARETHINGS_SERVER_PORT=9090
    SHARETHINGS_STORAGE_PATH=/var/lib/sharethings
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit()
	case "start":
		runStart()
	case "help", "--help", "-h":
		fmt.Print(usage)
	case "version", "--version", "-v":
		fmt.Printf("sharethings %s (commit: %s, built: %s)\n", version, commit, date)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// runInit handles the init subcommand
func runInit() {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := initFlags.String("config", "", "Path to config file")
	force := initFlags.Bool("force", false, "Force overwrite existing config file")
	if err := initFlags.Parse(os.Args[2:]); err != nil {
		fatal("Failed to parse flags: %v", err)
	}

	var configPath string
	var err error
	if *configFile != "" {
		configPath = *configFile
		err = config.InitConfigToPath(configPath, *force)
	} else {
		configPath, err = config.InitConfig(*force)
	}
	if err != nil {
		fatal("Failed to initialize config: %v", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: sharethings start")
}

// runStart handles the start subcommand
func runStart() {
	startFlags := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := startFlags.String("config", "", "Path to config file")
	if err := startFlags.Parse(os.Args[2:]); err != nil {
		fatal("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fatal("Failed to load configuration: %v", err)
	}

	if err := initLogger(cfg); err != nil {
		fatal("Failed to initialize logger: %v", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		fatal("Failed to start server: %v", err)
	}

	if err := srv.Run(ctx); err != nil {
		fatal("Server error: %v", err)
	}
}

// initLogger configures the process-wide logger from config.
func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
