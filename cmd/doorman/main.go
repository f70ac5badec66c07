package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/config"
	"github.com/apidoorman/doorman-sub003/internal/gateway"
	"github.com/apidoorman/doorman-sub003/internal/logging"

	// Protocol dispatchers (auto-register)
	_ "github.com/apidoorman/doorman-sub003/internal/proxy/protocol/graphql"
	_ "github.com/apidoorman/doorman-sub003/internal/proxy/protocol/grpc"
	_ "github.com/apidoorman/doorman-sub003/internal/proxy/protocol/rest"
	_ "github.com/apidoorman/doorman-sub003/internal/proxy/protocol/soap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to optional YAML overlay (environment applies first)")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Doorman %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration; Validate runs inside Load so the MEM/THREADS
	// rule and missing-credential checks are fatal before anything binds.
	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	// Initialize structured logger; the ring buffer feeds the
	// /platform/logging endpoints so it must exist before any line is cut.
	buffer := logging.NewRingBuffer(cfg.Logging.BufferLines)
	logger, err := logging.New(cfg.Logging.Level, logging.Options{
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Buffer:     buffer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting Doorman",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("store_mode", cfg.Store.Mode),
		zap.String("bind", cfg.Server.BindAddress),
	)

	gw, err := gateway.New(cfg, buffer)
	if err != nil {
		logging.Error("Failed to assemble gateway", zap.Error(err))
		os.Exit(1)
	}

	if err := gw.SeedAdmin(context.Background()); err != nil {
		logging.Error("Failed to seed admin user", zap.Error(err))
		os.Exit(1)
	}

	server := gateway.NewServer(cfg, gw)
	if err := server.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
