// swarm - overhead camera coordination for a fleet of toio cubes
// Detects cubes, keeps them inside the zone and recovers stuck or lost ones
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-swarm/internal/config"
	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/debug"
	"github.com/teslashibe/go-swarm/pkg/swarm"
)

func main() {
	cfg, opts := parseFlags()

	app, err := swarm.New(cfg, opts)
	if err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the config file and applies command line overrides.
func parseFlags() (*config.Config, swarm.Options) {
	configPath := flag.String("config", config.Path(""), "YAML config file (overrides SWARM_CONFIG env var)")
	debugFlag := flag.Bool("debug", false, "Enable verbose perception logging")
	debugTracking := flag.Bool("debug-tracking", false, "Log every control loop command")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	dryRun := flag.Bool("dry-run", false, "Record commands and replay a synthetic scene")
	port := flag.Int("port", 0, "HTTP port (overrides config and SWARM_HTTP_PORT)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Init("info")
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *debugFlag || cfg.Debug {
		debug.Enabled = true
		cfg.LogLevel = "debug"
	}
	if *debugTracking {
		debug.Tracking = true
		cfg.LogLevel = "debug"
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	log.Init(cfg.LogLevel)

	return cfg, swarm.Options{DryRun: *dryRun}
}
