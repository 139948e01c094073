package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/app"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serviceRole = flag.String("service", "all", "Service role: ingress, admin, worker or all")
	serverPort  = flag.Int("port", 0, "Server port for the selected service (overrides config)")
	serverHost  = flag.String("host", "", "Server host for the selected service (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Dealflow version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> files -> env)
	// 2. Apply CLI overrides
	// 3. Initialize logger, print banner
	// 4. Wire the app and start the listeners for the selected role
	if len(configFiles) == 0 {
		if _, err := os.Stat("dealflow.toml"); err == nil {
			configFiles = append(configFiles, "dealflow.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *serviceRole, *serverPort, *serverHost)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("service", *serviceRole).
		Str("environment", config.Environment).
		Bool("local_dev", config.LocalDev).
		Msg("Application configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	servers, err := application.Servers(*serviceRole)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid service role")
		os.Exit(1)
	}

	if app.RunsScheduler(*serviceRole) {
		if err := application.Scheduler.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start scheduler")
			os.Exit(1)
		}
	}

	for _, srv := range servers {
		srv := srv
		go func() {
			if err := srv.Start(); err != nil {
				logger.Fatal().Err(err).Msg("Server failed to start")
			}
		}()
	}

	logger.Info().Str("service", *serviceRole).Msg("Ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown failed")
		}
	}

	logger.Info().Msg("Stopped")
}
