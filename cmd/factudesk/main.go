// Package main is the entry point for the factudesk desktop launcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/factudesk/factudesk/internal/config"
	"github.com/factudesk/factudesk/internal/launcher"
	"github.com/factudesk/factudesk/internal/server"
	"github.com/factudesk/factudesk/pkg/models"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	// Parse flags
	var (
		configPath  = flag.String("config", "", "Path to config file")
		workDir     = flag.String("work-dir", "", "Django project directory (default: current directory)")
		host        = flag.String("host", "", "Backend host (default: 127.0.0.1)")
		port        = flag.Int("port", 0, "Backend port (default: 8000)")
		settings    = flag.String("settings", "", "Django settings module (default: slr_project.settings_desktop)")
		storePath   = flag.String("store", "", "Path to launch journal file")
		logDir      = flag.String("log-dir", "", "Directory for backend logs")
		attempts    = flag.Int("attempts", 0, "Maximum readiness probe attempts")
		noBrowser   = flag.Bool("no-browser", false, "Do not open the system browser when ready")
		showVersion = flag.Bool("version", false, "Show version and exit")
		initConfig  = flag.Bool("init", false, "Initialize default config and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("factudesk %s (%s)\n", version, commit)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Override with flags
	if *workDir != "" {
		cfg.Backend.WorkDir = *workDir
	}
	if *host != "" {
		cfg.Backend.Host = *host
	}
	if *port != 0 {
		cfg.Backend.Port = *port
	}
	if *settings != "" {
		cfg.Backend.SettingsModule = *settings
	}
	if *storePath != "" {
		cfg.Launcher.StorePath = *storePath
	}
	if *logDir != "" {
		cfg.Launcher.LogDir = *logDir
	}
	if *attempts != 0 {
		cfg.Probe.MaxAttempts = *attempts
	}

	if *initConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		fmt.Println("Configuration initialized")
		os.Exit(0)
	}

	// Create the shell surface server first: it is the launcher's UI backend.
	srv := server.New(server.Config{
		Addr:        cfg.ShellAddress(),
		Version:     version,
		Commit:      commit,
		OpenBrowser: !*noBrowser,
		AppConfig:   cfg,
	})

	lnch, err := launcher.New(cfg, srv)
	if err != nil {
		log.Fatalf("Failed to create launcher: %v", err)
	}
	srv.SetLauncher(lnch)

	// Handle shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-srv.QuitRequests():
			// The user dismissed the error surface.
		}
		log.Println("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		lnch.Shutdown()
	}()

	// Print startup info
	log.Printf("factudesk %s starting", version)
	log.Printf("Splash page:  http://%s/", cfg.ShellAddress())
	log.Printf("Status API:   http://%s/api/status", cfg.ShellAddress())
	log.Printf("Health check: http://%s/health", cfg.ShellAddress())
	log.Printf("Backend:      %s", cfg.BackendURL())

	// Drive the launch in the background; the surface server is what keeps
	// the process alive.
	go func() {
		if err := lnch.Run(ctx); err != nil {
			log.Printf("Launch failed: %v", err)
			return
		}
		launch := lnch.Current()
		if launch.State == models.LaunchStateReady {
			log.Printf("Backend ready after %d attempt(s): %s", launch.Attempts, launch.BackendURL)
		}
	}()

	// Start server
	if err := srv.Start(); err != nil {
		select {
		case <-ctx.Done():
			// Expected shutdown
		default:
			log.Fatalf("Server error: %v", err)
		}
	}
}
