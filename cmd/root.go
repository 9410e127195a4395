package cmd

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mizuki-dev/kaiwa/internal/backend"
	"github.com/mizuki-dev/kaiwa/internal/config"
	"github.com/mizuki-dev/kaiwa/internal/keyring"
	"github.com/mizuki-dev/kaiwa/internal/logger"
	"github.com/mizuki-dev/kaiwa/internal/session"
)

// Build metadata, set from main.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Run parses CLI flags, sets up logging and config, connects to the backend,
// and runs the session until interrupted.
func Run() error {
	configPath := flag.String("config-path", config.DefaultPath(), "path to config file")
	logPath := flag.String("log-path", logger.DefaultPath(), "path to log file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	server := flag.String("server", "", "backend websocket URL (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kaiwa %s (%s, %s)\n", Version, Commit, Date)
		return nil
	}

	level := parseLevel(*logLevel)
	if err := logger.Setup(*logPath, level); err != nil {
		return err
	}

	slog.Info("starting kaiwa", "version", Version, "config", *configPath, "log", *logPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *server != "" {
		cfg.ServerURL = *server
	}

	token, err := keyring.GetSessionToken()
	if err != nil {
		return fmt.Errorf("session token: %w (set KAIWA_SESSION_TOKEN or store one in the keyring)", err)
	}

	client, err := backend.Dial(cfg.ServerURL, token)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := session.New(client, client.Self(), cfg, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	// Activate the first known channel, as the channel list loads with one
	// selected.
	if channels, err := client.Channels().List(); err != nil {
		slog.Warn("listing channels failed", "error", err)
	} else if len(channels) > 0 {
		if err := sess.Activate(channels[0]); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down")
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
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
